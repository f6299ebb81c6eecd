package rpc

import "strconv"

// Params is the opaque parameter bag of a request. Values keep their
// decoded JSON shape so validators can rewrite them in place.
type Params map[string]any

// String returns the string at key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns the truthiness of the value at key.
func (p Params) Bool(key string) bool {
	return Truthy(p[key])
}

// Map returns the object at key, or nil. The result aliases the stored map.
func (p Params) Map(key string) Params {
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v)
	case Params:
		return v
	}
	return nil
}

// List returns the array at key, or nil.
func (p Params) List(key string) []any {
	l, _ := p[key].([]any)
	return l
}

// Truthy applies JSON-value truthiness: nil, false, 0 and "" are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	}
	return true
}

// idString normalizes a decoded JSON id. Numbers are formatted without
// exponent; anything else is not an id.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
