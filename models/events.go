package models

import "encoding/json"

// SSE event names emitted during a streaming response.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventPing              = "ping"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// Delta types carried by content_block_delta events.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// StreamEvent pairs an SSE event name with its JSON payload.
type StreamEvent struct {
	Event string
	Data  any
}

// MessageStartEvent opens a streamed message. Message carries zero usage and
// null stop fields; the real values arrive in the closing message_delta.
type MessageStartEvent struct {
	Type    string                 `json:"type"`
	Message ClaudeMessagesResponse `json:"message"`
}

// StreamTextBlock is the content_block of a content_block_start for text.
// Text is always serialized, empty at open.
type StreamTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StreamToolUseBlock is the content_block of a content_block_start for a tool
// call. Input is always serialized and starts as an empty object; arguments
// stream separately as input_json_delta fragments.
type StreamToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ContentBlockStartEvent opens content block Index. ContentBlock is either a
// StreamTextBlock or a StreamToolUseBlock.
type ContentBlockStartEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

// PingEvent is a keepalive sent right after message_start.
type PingEvent struct {
	Type string `json:"type"`
}

// StreamDelta is the delta of a content_block_delta: a text fragment or a
// partial JSON fragment of tool arguments.
type StreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockDeltaEvent appends a fragment to the open block at Index.
type ContentBlockDeltaEvent struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta StreamDelta `json:"delta"`
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaBody carries the final stop reason of a streamed message.
type MessageDeltaBody struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaEvent closes the message body with its stop reason and final
// usage totals.
type MessageDeltaEvent struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage ClaudeUsage      `json:"usage"`
}

// MessageStopEvent terminates the event stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}
