package domain

import (
	"errors"
	"fmt"
)

// JSON-RPC and EIP-1193 error codes surfaced to pages
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeUserRejected    = 4001
	CodeUnauthorized    = 4100
	CodeUnsupported     = 4200
	CodeDisconnected    = 4900
	CodeChainDisconnect = 4901
	CodeRequestTimeout  = 4999
)

var (
	ErrPortNotFound       = errors.New("port not found")
	ErrPortClosed         = errors.New("port closed")
	ErrSendBufferFull     = errors.New("port send buffer full")
	ErrRequestNotFound    = errors.New("pending request not found")
	ErrDuplicateRequest   = errors.New("request id already pending")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrNoSession          = errors.New("no active session")
	ErrClearNotConfirmed  = errors.New("blacklist clear requires explicit confirmation")
	ErrWrongContext       = errors.New("operation not permitted in this runtime context")
	ErrConnectionNotFound = errors.New("domain connection not found")
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrInvalidStatus      = errors.New("invalid connection status")
)

// ProviderError is the error object carried in a Response
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// NewProviderError builds a ProviderError with the given code
func NewProviderError(code int, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// ProtocolError reports a malformed request shape
func ProtocolError(message string) *ProviderError {
	return &ProviderError{Code: CodeInvalidRequest, Message: message}
}

// InvalidParams reports malformed request parameters
func InvalidParams(message string) *ProviderError {
	return &ProviderError{Code: CodeInvalidParams, Message: message}
}

// MethodError reports an unsupported method
func MethodError(method string) *ProviderError {
	return &ProviderError{Code: CodeUnsupported, Message: "The requested method is not supported: " + method}
}

// AuthError reports an invalid session or unauthorized domain
func AuthError(message string) *ProviderError {
	return &ProviderError{Code: CodeUnauthorized, Message: message}
}

// UserRejection reports an explicit decline in the approval UI
func UserRejection() *ProviderError {
	return &ProviderError{Code: CodeUserRejected, Message: "User rejected the request"}
}

// TimeoutError reports an approval or backend deadline being exceeded
func TimeoutError(message string) *ProviderError {
	return &ProviderError{Code: CodeRequestTimeout, Message: message}
}

// BackendError wraps an RPC backend failure
func BackendError(message string) *ProviderError {
	return &ProviderError{Code: CodeInternalError, Message: message}
}

// DisconnectedError reports that the provider lost its connection
func DisconnectedError(message string) *ProviderError {
	return &ProviderError{Code: CodeDisconnected, Message: message}
}

// AsProviderError converts any error into a ProviderError, defaulting to an internal error
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return BackendError(err.Error())
}
