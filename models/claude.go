package models

import (
	"encoding/json"
	"fmt"
)

// Content block types accepted on the Claude Messages wire.
const (
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// Message roles accepted in the messages array.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool choice modes.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceTool = "tool"
)

// ImageSourceBase64 is the only image source type the bridge forwards.
const ImageSourceBase64 = "base64"

// ClaudeContentBlock is one element of a message's content array. Type
// selects which of the remaining fields are meaningful:
//
//	text        Text
//	image       Source
//	tool_use    ID, Name, Input
//	tool_result ToolUseID, Content, IsError
//
// Unknown types survive decoding so the converter can reject them by name.
type ClaudeContentBlock struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Source    *ClaudeImageSource `json:"source,omitempty"`
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Input     json.RawMessage    `json:"input,omitempty"`
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ClaudeToolContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`
}

// ClaudeImageSource carries inline image data. Only base64 sources are
// supported downstream; Type is kept so validation can name the offender.
type ClaudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ClaudeContent is a message content field, which arrives either as a bare
// string or as an array of content blocks. A bare string decodes to a single
// text block so downstream code only ever sees the block form.
type ClaudeContent []ClaudeContentBlock

func (c *ClaudeContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ClaudeContent{{Type: ContentTypeText, Text: s}}
		return nil
	}
	var blocks []ClaudeContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of content blocks: %w", err)
	}
	*c = blocks
	return nil
}

// ClaudeToolContent is the content field of a tool_result block: a bare
// string or an array of text/image blocks.
type ClaudeToolContent []ClaudeContentBlock

func (c *ClaudeToolContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ClaudeToolContent{{Type: ContentTypeText, Text: s}}
		return nil
	}
	var blocks []ClaudeContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("tool_result content must be a string or an array of content blocks: %w", err)
	}
	*c = blocks
	return nil
}

// ClaudeSystemContent is one block of a structured system prompt.
type ClaudeSystemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClaudeSystem is the system field, which arrives as a bare string or as an
// array of text blocks.
type ClaudeSystem []ClaudeSystemContent

func (s *ClaudeSystem) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = ClaudeSystem{{Type: ContentTypeText, Text: text}}
		return nil
	}
	var blocks []ClaudeSystemContent
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or an array of text blocks: %w", err)
	}
	*s = blocks
	return nil
}

// ClaudeMessage is a single conversation turn.
type ClaudeMessage struct {
	Role    string        `json:"role"`
	Content ClaudeContent `json:"content"`
}

// ClaudeTool declares a tool the model may call. InputSchema is kept raw so
// the JSON Schema passes through to the backend byte for byte.
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ClaudeToolChoice selects how the model may use tools. Type is one of
// auto, any or tool; Name is set only for type tool.
type ClaudeToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ClaudeMessagesRequest is the request body for POST /v1/messages.
type ClaudeMessagesRequest struct {
	Model         string            `json:"model"`
	MaxTokens     int               `json:"max_tokens"`
	Messages      []ClaudeMessage   `json:"messages"`
	System        ClaudeSystem      `json:"system,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Temperature   *float32          `json:"temperature,omitempty"`
	TopP          *float32          `json:"top_p,omitempty"`
	TopK          int               `json:"top_k,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Tools         []ClaudeTool      `json:"tools,omitempty"`
	ToolChoice    *ClaudeToolChoice `json:"tool_choice,omitempty"`
}

// ClaudeTokenCountRequest is the request body for POST /v1/messages/count_tokens.
type ClaudeTokenCountRequest struct {
	Model    string          `json:"model"`
	Messages []ClaudeMessage `json:"messages"`
	System   ClaudeSystem    `json:"system,omitempty"`
	Tools    []ClaudeTool    `json:"tools,omitempty"`
}

// ClaudeTokenCountResponse is the response body for token counting.
type ClaudeTokenCountResponse struct {
	InputTokens int `json:"input_tokens"`
}
