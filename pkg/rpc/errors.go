package rpc

import "fmt"

// Reserved error codes.
const (
	CodeServiceDisabled = -32000
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
)

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ServiceDisabledError answers every request while the chooser is disabled.
func ServiceDisabledError() *Error {
	return &Error{Code: CodeServiceDisabled, Message: "Service unavailable", Data: "Service is unavailable."}
}

// InvalidRequestError reports a request of the wrong shape or type.
func InvalidRequestError(data string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid request", Data: data}
}

// MethodNotFoundError reports an unsupported method.
func MethodNotFoundError(data string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found", Data: data}
}

// InvalidParamsError reports a rejected parameter.
func InvalidParamsError(data string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid parameter", Data: data}
}

func errorFromWire(v any) *Error {
	m, ok := v.(map[string]any)
	if !ok {
		return &Error{Message: fmt.Sprint(v)}
	}
	e := &Error{}
	if code, ok := m["code"].(float64); ok {
		e.Code = int(code)
	}
	e.Message, _ = m["message"].(string)
	e.Data, _ = m["data"].(string)
	return e
}
