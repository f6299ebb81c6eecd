package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

type field struct {
	key   string
	value any
}

// Marshal serializes obj with fields in wire order: jsonrpc, timestamp,
// rpcToken, build, then id, method and params or id and result/error.
func Marshal(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range obj.wireFields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", f.key)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode is Marshal returning a string payload for the transport.
func Encode(obj Object) (string, error) {
	data, err := Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ToMap round-trips obj through JSON into its plain object form.
func ToMap(obj Object) (map[string]any, error) {
	data, err := Marshal(obj)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
