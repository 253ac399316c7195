package rpc

import "fmt"

// Error is the JSON-RPC shaped error delivered through response callbacks.
// The message text of the catalog's own errors is user-visible and stable.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewError builds an Error with the given code and message.
func NewError(code int64, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an internal Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf(format, args...)}
}

// PluginNotFound is the reply for a request addressed to a plugin id that is
// not in the registry.
func PluginNotFound() *Error {
	return &Error{Code: CodeInvalidRequest, Message: "plugin doesn't exist"}
}

// NoAvailablePlugin is the reply synthesized for a broadcast request when the
// registry holds no plugins at all.
func NoAvailablePlugin() *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: "no available plugin could make a callback, because the plugins list is empty",
	}
}

// MethodUnsupported is the reply for a routed request the plugin's document
// filter rejected.
func MethodUnsupported() *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method is unsupported by the plugin"}
}
