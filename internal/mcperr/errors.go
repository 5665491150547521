// Package mcperr implements the error taxonomy shared across the
// transport, router, proxy, and OAuth layers (design doc §7).
package mcperr

import (
	"errors"
	"fmt"

	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// Kind classifies an error into one of the taxonomy's buckets so callers
// can branch on category without string matching.
type Kind string

const (
	KindParse             Kind = "parse"
	KindProtocol          Kind = "protocol"
	KindMethodNotFound     Kind = "method_not_found"
	KindInvalidParams      Kind = "invalid_params"
	KindNotFound           Kind = "not_found"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindConnectionFailed   Kind = "connection_failed"
	KindSerializationFailed Kind = "serialization_failed"
	KindSizeLimit          Kind = "size_limit"
	KindSecurityGate       Kind = "security_gate"
	KindOAuth              Kind = "oauth"
	KindInternal           Kind = "internal"
)

// Error is the concrete error type used across the runtime. It carries
// enough information to be converted to a JSON-RPC error response (Code)
// or an HTTP status, without leaking internal detail when that's required
// by policy (see Public).
type Error struct {
	Kind    Kind
	Code    int
	Message string
	// Public, when non-empty, is the message that's safe to return to a
	// caller even when Message contains internal context (§7: "Server
	// internal error details are never echoed to clients").
	Public string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage returns the message safe to return to an external caller.
func (e *Error) PublicMessage() string {
	if e.Public != "" {
		return e.Public
	}
	switch e.Kind {
	case KindInternal:
		return "internal server error"
	default:
		return e.Message
	}
}

// New builds an *Error of the given kind with a JSON-RPC error code
// already attached.
func New(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches context to an underlying error while classifying it.
func Wrap(kind Kind, code int, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Convenience constructors matching the taxonomy table in §7.

func ParseFailed(err error) *Error {
	return Wrap(KindParse, jsonrpc.CodeParseError, "parse error", err)
}

func ProtocolViolation(message string) *Error {
	return New(KindProtocol, jsonrpc.CodeInvalidRequest, message)
}

func MethodNotFound(method string) *Error {
	return New(KindMethodNotFound, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", method))
}

func InvalidParams(message string) *Error {
	return New(KindInvalidParams, jsonrpc.CodeInvalidParams, message)
}

func NotFound(kind, name string) *Error {
	return New(KindNotFound, jsonrpc.CodeInternalError, fmt.Sprintf("%s not found: %s", kind, name))
}

func AuthenticationRequired(message string) *Error {
	return New(KindAuthentication, jsonrpc.CodeAuthenticationRequired, message)
}

func AuthorizationDenied(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: jsonrpc.CodeAuthorizationDenied, Message: message, Public: "access denied"}
}

func ConnectionFailed(err error) *Error {
	return Wrap(KindConnectionFailed, jsonrpc.CodeInternalError, "connection failed", err)
}

func SerializationFailed(err error) *Error {
	return Wrap(KindSerializationFailed, jsonrpc.CodeInternalError, "serialization failed", err)
}

func SizeLimitExceeded(limit int) *Error {
	return New(KindSizeLimit, jsonrpc.CodeSizeLimitExceeded, fmt.Sprintf("size limit of %d bytes exceeded", limit))
}

func SecurityGate(message string) *Error {
	return &Error{Kind: KindSecurityGate, Code: jsonrpc.CodeInvalidRequest, Message: message, Public: "request blocked by security policy"}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: jsonrpc.CodeInternalError, Message: "internal error", Err: err}
}

// ToJSONRPC converts any error into a *jsonrpc.Error, classifying plain
// (non-*Error) errors as internal so a handler panic or stdlib error never
// crashes the transport — it only fails the one request.
func ToJSONRPC(err error) *jsonrpc.Error {
	var me *Error
	if errors.As(err, &me) {
		return &jsonrpc.Error{Code: me.Code, Message: me.PublicMessage()}
	}
	return &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "internal error"}
}

// HandlerNotConfigured is returned when a tool handler attempts a
// server->client request but no ServerRequestDispatcher is installed.
var HandlerNotConfigured = New(KindInternal, jsonrpc.CodeInternalError, "dispatcher not configured")

// Sentinel errors reused by stores and session/token lifecycle code.
var (
	ErrNotFound = errors.New("mcperr: not found")
	ErrExpired  = errors.New("mcperr: expired")
	ErrRevoked  = errors.New("mcperr: revoked")
	ErrUsed     = errors.New("mcperr: already used")
)
