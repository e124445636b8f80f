package models

import "encoding/json"

// Stop reasons reported to the client.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
)

// ClaudeResponseBlock is one content block of an assistant response. Text
// blocks set Text; tool_use blocks set ID, Name and Input.
type ClaudeResponseBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ClaudeUsage reports token accounting. Input and output counters are always
// present on the wire, zero when the backend reported nothing.
type ClaudeUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// ClaudeMessagesResponse is the response body for a non-streaming
// POST /v1/messages, and the message object inside message_start events.
// StopReason and StopSequence are pointers so an unfinished message
// serializes them as explicit nulls.
type ClaudeMessagesResponse struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []ClaudeResponseBlock `json:"content"`
	StopReason   *string               `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        ClaudeUsage           `json:"usage"`
}

// MessageResponseType is the constant type tag of a messages response.
const MessageResponseType = "message"

// Error types of the Claude error envelope, ordered roughly by HTTP status.
const (
	ErrTypeInvalidRequest  = "invalid_request_error"
	ErrTypeAuthentication  = "authentication_error"
	ErrTypePermission      = "permission_error"
	ErrTypeNotFound        = "not_found_error"
	ErrTypeRequestTooLarge = "request_too_large"
	ErrTypeRateLimit       = "rate_limit_error"
	ErrTypeAPI             = "api_error"
	ErrTypeOverloaded      = "overloaded_error"
)

// ClaudeErrorDetail is the inner object of an error envelope.
type ClaudeErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClaudeErrorResponse is the error envelope returned on every failure path,
// both as an HTTP body and as the data of an SSE error event.
type ClaudeErrorResponse struct {
	Type  string            `json:"type"`
	Error ClaudeErrorDetail `json:"error"`
}

// NewErrorResponse builds an error envelope of the given type.
func NewErrorResponse(errType, message string) ClaudeErrorResponse {
	return ClaudeErrorResponse{
		Type:  "error",
		Error: ClaudeErrorDetail{Type: errType, Message: message},
	}
}
