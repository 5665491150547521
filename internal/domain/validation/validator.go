package validation

import (
	"github.com/mcprt/mcprt/pkg/jsonrpc"
	"github.com/mcprt/mcprt/pkg/mcp"
)

// MessageValidator validates MCP messages for JSON-RPC compliance
// and MCP-specific requirements.
type MessageValidator struct{}

// NewMessageValidator creates a new MessageValidator.
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// Validate checks if the message is a valid JSON-RPC/MCP message.
// Returns nil if valid, or a *ValidationError if invalid.
//
// Validation rules:
// - Message must have a non-nil Decoded field (parse error if nil)
// - Requests must have a non-empty Method
// - Request Method must be a valid MCP method
// - Notifications (Request with no ID) must have non-empty Method
// - Responses must have ID and either Result or Error (not both, not neither)
func (v *MessageValidator) Validate(msg *mcp.Message) error {
	if msg.Decoded == nil {
		return NewValidationError(ErrCodeParseError, "Parse error")
	}

	switch m := msg.Decoded.(type) {
	case *jsonrpc.Request:
		return v.validateMethod(m.Method)

	case *jsonrpc.Notification:
		return v.validateMethod(m.Method)

	case *jsonrpc.Response:
		return v.validateResponse(m)

	default:
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
}

// validateMethod is shared by requests and notifications: both carry a
// Method field and neither is valid without one.
func (v *MessageValidator) validateMethod(method string) error {
	if method == "" {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if !IsValidMCPMethod(method) {
		return NewValidationError(ErrCodeMethodNotFound, "Method not found")
	}
	return nil
}

// validateResponse validates a JSON-RPC response.
func (v *MessageValidator) validateResponse(resp *jsonrpc.Response) error {
	if resp.ID.IsZero() {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}

	hasResult := resp.Result != nil
	hasError := resp.Err != nil

	if hasResult && hasError {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if !hasResult && !hasError {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}

	return nil
}
