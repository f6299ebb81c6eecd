package rpc

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// ErrNotObject is returned by Decode when the payload is not a JSON object.
var ErrNotObject = errors.New("payload is not a json object")

type parseFunc func(raw map[string]any) Object

// parsers maps each kind to its parse predicate. Every kind must be listed.
var parsers = map[Kind]parseFunc{
	KindStore: func(raw map[string]any) Object {
		id, params := idString(raw["id"]), paramsOf(raw)
		if id == "" || len(params.List("accounts")) == 0 {
			return nil
		}
		return &StoreRequest{call{ID: id, params: params}}
	},
	KindSelect: func(raw map[string]any) Object {
		id := idString(raw["id"])
		if id == "" {
			return nil
		}
		return &SelectRequest{call{ID: id, params: paramsOrEmpty(raw)}}
	},
	KindUpdate: func(raw map[string]any) Object {
		id, params := idString(raw["id"]), paramsOf(raw)
		if id == "" || !Truthy(params["account"]) {
			return nil
		}
		return &UpdateRequest{call{ID: id, params: params}}
	},
	KindManage: func(raw map[string]any) Object {
		id := idString(raw["id"])
		if id == "" {
			return nil
		}
		return &ManageRequest{call{ID: id, params: paramsOrEmpty(raw)}}
	},
	KindAbout: func(raw map[string]any) Object {
		id := idString(raw["id"])
		if id == "" {
			return nil
		}
		return &AboutRequest{call{ID: id, params: paramsOrEmpty(raw)}}
	},
	KindBootstrap: func(raw map[string]any) Object {
		id, params := idString(raw["id"]), paramsOf(raw)
		if id == "" || !Truthy(params["origin"]) {
			return nil
		}
		return &BootstrapRequest{call{ID: id, params: params}}
	},
	KindQuery: func(raw map[string]any) Object {
		id, params := idString(raw["id"]), paramsOf(raw)
		if id == "" || !Truthy(params["query"]) {
			return nil
		}
		return &QueryRequest{call{ID: id, params: params}}
	},
	KindGetIdpAccount: func(raw map[string]any) Object {
		id := idString(raw["id"])
		if id == "" {
			return nil
		}
		return &GetIdpAccountsRequest{call{ID: id, params: paramsOf(raw)}}
	},
	KindRequestAck: func(raw map[string]any) Object {
		requestID := idString(paramsOf(raw)["requestId"])
		if requestID == "" {
			return nil
		}
		return &RequestAckNotification{RequestID: requestID}
	},
	KindServerReady: func(map[string]any) Object {
		return &ServerReadyNotification{}
	},
	KindClientReady: func(map[string]any) Object {
		return &ClientReadyNotification{}
	},
	KindEmptyResponse: func(map[string]any) Object {
		return &EmptyResponseNotification{}
	},
	KindResponse: parseResponse,
}

func parseResponse(raw map[string]any) Object {
	id := idString(raw["id"])
	if id == "" {
		return nil
	}
	result, rpcErr := raw["result"], raw["error"]
	if (result == nil) == (rpcErr == nil) {
		return nil
	}
	if rpcErr != nil {
		return NewErrorResponse(id, errorFromWire(rpcErr))
	}
	return NewDoneResponse(id, result)
}

// Decode parses a transport payload into its plain object form.
func Decode(data string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, errors.Wrap(err, "decode rpc payload")
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return raw, nil
}

// ParseObject converts a plain object into a typed Object, or returns nil
// when the object is not acceptable. A message with a method is matched
// against the acceptable kinds in order and the first kind with that
// method decides. A message without a method is a Response, provided
// KindResponse is acceptable.
func ParseObject(raw map[string]any, acceptable ...Kind) Object {
	if raw == nil || raw["jsonrpc"] != Version {
		return nil
	}
	var obj Object
	if method, _ := raw["method"].(string); method != "" {
		for _, kind := range acceptable {
			if kind == KindResponse || string(kind) != method {
				continue
			}
			parse, ok := parsers[kind]
			if !ok {
				return nil
			}
			obj = parse(raw)
			break
		}
	} else if containsKind(acceptable, KindResponse) {
		obj = parseResponse(raw)
	}
	if obj == nil {
		return nil
	}
	meta := obj.Metadata()
	if token, ok := raw["rpcToken"].(string); ok && token != "" {
		meta.RPCToken = token
	}
	if build := buildNumber(raw["build"]); build != 0 {
		meta.Build = build
	}
	if ts, ok := raw["timestamp"].(float64); ok {
		meta.Timestamp = int64(ts)
	}
	return obj
}

// Parse decodes data and parses it against acceptable. A nil Object with
// a nil error means the payload was well formed but not acceptable.
func Parse(data string, acceptable ...Kind) (Object, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ParseObject(raw, acceptable...), nil
}

func containsKind(kinds []Kind, want Kind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func paramsOf(raw map[string]any) Params {
	p, _ := raw["params"].(map[string]any)
	return Params(p)
}

func paramsOrEmpty(raw map[string]any) Params {
	if p := paramsOf(raw); p != nil {
		return p
	}
	return Params{}
}

func buildNumber(v any) int64 {
	switch b := v.(type) {
	case float64:
		return int64(b)
	case string:
		n, _ := strconv.ParseInt(b, 10, 64)
		return n
	}
	return 0
}
