package conversion

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/models"
)

type streamPhase int

const (
	phaseIdle streamPhase = iota
	phaseStarted
	phaseTextOpen
	phaseToolOpen
	phaseFinalized
)

// toolCallState tracks one backend tool call across fragments. Backends
// deliver the id and name up front and then stream the arguments as string
// fragments meant to be concatenated.
type toolCallState struct {
	blockIndex int
	id         string
	name       string
	args       strings.Builder
	flushed    int
	started    bool
	closed     bool
}

// StreamConverter turns backend chat completion fragments into the Claude
// event sequence. It is a single-goroutine state machine: feed fragments
// through Next and close the stream with Finish. Once finalized it emits
// nothing further.
//
// Event ordering is guaranteed: one message_start first, for every block
// index a content_block_start strictly before its deltas and exactly one
// content_block_stop after them, block indices strictly increasing, and one
// message_stop last.
type StreamConverter struct {
	requestModel string
	messageID    string

	phase          streamPhase
	nextBlockIndex int
	openBlockIndex int
	openToolIndex  int
	tools          map[int]*toolCallState

	finishReason openai.FinishReason
	finishSeen   bool
	usage        models.ClaudeUsage
	usageSeen    bool
}

// NewStreamConverter builds a converter for one streamed response. The
// message_start event reports requestModel, the model name the client asked
// for.
func NewStreamConverter(requestModel string) *StreamConverter {
	return &StreamConverter{
		requestModel: requestModel,
		messageID:    NewMessageID(),
		tools:        make(map[int]*toolCallState),
	}
}

// MessageID returns the id carried by the message_start event.
func (sc *StreamConverter) MessageID() string {
	return sc.messageID
}

// Started reports whether message_start has been emitted.
func (sc *StreamConverter) Started() bool {
	return sc.phase != phaseIdle
}

// Finalized reports whether the terminal event sequence has been emitted.
func (sc *StreamConverter) Finalized() bool {
	return sc.phase == phaseFinalized
}

// Next converts one backend fragment into zero or more Claude events.
//
// A finish_reason does not finalize on its own: with usage reporting enabled
// the backend sends the usage totals in a trailing fragment after it, and the
// closing message_delta must carry them. Finalization happens once both have
// arrived, or at Finish.
func (sc *StreamConverter) Next(chunk openai.ChatCompletionStreamResponse) []models.StreamEvent {
	if sc.phase == phaseFinalized {
		return nil
	}

	var events []models.StreamEvent
	if sc.phase == phaseIdle {
		if chunk.ID != "" {
			sc.messageID = chunk.ID
		}
		events = append(events, sc.startEvents()...)
		sc.phase = phaseStarted
	}

	if chunk.Usage != nil {
		sc.usage = usageFromOpenAI(chunk.Usage)
		sc.usageSeen = true
	}

	if len(chunk.Choices) == 0 {
		if sc.finishSeen && sc.usageSeen {
			events = append(events, sc.finalize(MapFinishReason(sc.finishReason))...)
		}
		return events
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		events = append(events, sc.appendText(choice.Delta.Content)...)
	}
	for _, toolCall := range choice.Delta.ToolCalls {
		events = append(events, sc.appendToolCall(toolCall)...)
	}

	if choice.FinishReason != "" {
		sc.finishReason = choice.FinishReason
		sc.finishSeen = true
		if sc.usageSeen {
			events = append(events, sc.finalize(MapFinishReason(sc.finishReason))...)
		}
	}
	return events
}

// Finish finalizes a stream that ended without delivering its terminal
// events. A stream that produced no fragments at all still yields a complete
// message_start to message_stop sequence, so the client never sees a
// truncated one.
func (sc *StreamConverter) Finish() []models.StreamEvent {
	if sc.phase == phaseFinalized {
		return nil
	}

	var events []models.StreamEvent
	if sc.phase == phaseIdle {
		events = append(events, sc.startEvents()...)
		sc.phase = phaseStarted
	}

	stopReason := models.StopReasonEndTurn
	if sc.finishSeen {
		stopReason = MapFinishReason(sc.finishReason)
	}
	return append(events, sc.finalize(stopReason)...)
}

// Abort closes any open block so an error event can follow without leaving
// the stream on a dangling block, then finalizes. It does not emit
// message_delta or message_stop.
func (sc *StreamConverter) Abort() []models.StreamEvent {
	if sc.phase == phaseFinalized {
		return nil
	}
	events := sc.closeOpenBlock()
	sc.phase = phaseFinalized
	return events
}

func (sc *StreamConverter) startEvents() []models.StreamEvent {
	message := models.ClaudeMessagesResponse{
		ID:      sc.messageID,
		Type:    models.MessageResponseType,
		Role:    models.RoleAssistant,
		Model:   sc.requestModel,
		Content: []models.ClaudeResponseBlock{},
	}
	return []models.StreamEvent{
		{Event: models.EventMessageStart, Data: models.MessageStartEvent{
			Type:    models.EventMessageStart,
			Message: message,
		}},
		{Event: models.EventPing, Data: models.PingEvent{Type: models.EventPing}},
	}
}

func (sc *StreamConverter) appendText(text string) []models.StreamEvent {
	var events []models.StreamEvent
	if sc.phase != phaseTextOpen {
		events = append(events, sc.closeOpenBlock()...)
		index := sc.nextBlockIndex
		sc.nextBlockIndex++
		sc.openBlockIndex = index
		sc.phase = phaseTextOpen
		events = append(events, models.StreamEvent{
			Event: models.EventContentBlockStart,
			Data: models.ContentBlockStartEvent{
				Type:         models.EventContentBlockStart,
				Index:        index,
				ContentBlock: models.StreamTextBlock{Type: models.ContentTypeText, Text: ""},
			},
		})
	}
	return append(events, models.StreamEvent{
		Event: models.EventContentBlockDelta,
		Data: models.ContentBlockDeltaEvent{
			Type:  models.EventContentBlockDelta,
			Index: sc.openBlockIndex,
			Delta: models.StreamDelta{Type: models.DeltaTypeText, Text: text},
		},
	})
}

func (sc *StreamConverter) appendToolCall(toolCall openai.ToolCall) []models.StreamEvent {
	index := 0
	switch {
	case toolCall.Index != nil:
		index = *toolCall.Index
	case sc.phase == phaseToolOpen:
		index = sc.openToolIndex
	}

	state, exists := sc.tools[index]
	if !exists {
		state = &toolCallState{}
		sc.tools[index] = state
	}
	if state.closed {
		if toolCall.Function.Arguments != "" {
			slog.Warn("discarding tool call fragment for a closed block",
				"tool_index", index, "tool_id", state.id)
		}
		return nil
	}

	if toolCall.ID != "" {
		state.id = toolCall.ID
	}
	if toolCall.Function.Name != "" {
		state.name = toolCall.Function.Name
	}
	if toolCall.Function.Arguments != "" {
		state.args.WriteString(toolCall.Function.Arguments)
	}

	var events []models.StreamEvent
	if !state.started && state.name != "" {
		events = append(events, sc.closeOpenBlock()...)
		if state.id == "" {
			state.id = newToolCallID()
		}
		state.blockIndex = sc.nextBlockIndex
		sc.nextBlockIndex++
		state.started = true
		sc.openBlockIndex = state.blockIndex
		sc.openToolIndex = index
		sc.phase = phaseToolOpen
		events = append(events, models.StreamEvent{
			Event: models.EventContentBlockStart,
			Data: models.ContentBlockStartEvent{
				Type:  models.EventContentBlockStart,
				Index: state.blockIndex,
				ContentBlock: models.StreamToolUseBlock{
					Type:  models.ContentTypeToolUse,
					ID:    state.id,
					Name:  state.name,
					Input: json.RawMessage(`{}`),
				},
			},
		})
	}

	// Flush argument text that arrived at or before the block opening.
	if state.started {
		if pending := state.args.String()[state.flushed:]; pending != "" {
			state.flushed = state.args.Len()
			events = append(events, models.StreamEvent{
				Event: models.EventContentBlockDelta,
				Data: models.ContentBlockDeltaEvent{
					Type:  models.EventContentBlockDelta,
					Index: state.blockIndex,
					Delta: models.StreamDelta{Type: models.DeltaTypeInputJSON, PartialJSON: pending},
				},
			})
		}
	}
	return events
}

func (sc *StreamConverter) closeOpenBlock() []models.StreamEvent {
	switch sc.phase {
	case phaseTextOpen:
		sc.phase = phaseStarted
		return []models.StreamEvent{blockStopEvent(sc.openBlockIndex)}
	case phaseToolOpen:
		state := sc.tools[sc.openToolIndex]
		state.closed = true
		if args := state.args.String(); args != "" && !json.Valid([]byte(args)) {
			slog.Warn("tool call arguments did not assemble into valid JSON",
				"tool_id", state.id, "tool_name", state.name)
		}
		sc.phase = phaseStarted
		return []models.StreamEvent{blockStopEvent(sc.openBlockIndex)}
	}
	return nil
}

func (sc *StreamConverter) finalize(stopReason string) []models.StreamEvent {
	events := sc.closeOpenBlock()
	events = append(events, models.StreamEvent{
		Event: models.EventMessageDelta,
		Data: models.MessageDeltaEvent{
			Type:  models.EventMessageDelta,
			Delta: models.MessageDeltaBody{StopReason: &stopReason},
			Usage: sc.usage,
		},
	})
	events = append(events, models.StreamEvent{
		Event: models.EventMessageStop,
		Data:  models.MessageStopEvent{Type: models.EventMessageStop},
	})
	sc.phase = phaseFinalized
	return events
}

func blockStopEvent(index int) models.StreamEvent {
	return models.StreamEvent{
		Event: models.EventContentBlockStop,
		Data:  models.ContentBlockStopEvent{Type: models.EventContentBlockStop, Index: index},
	}
}

func usageFromOpenAI(usage *openai.Usage) models.ClaudeUsage {
	converted := models.ClaudeUsage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	if usage.PromptTokensDetails != nil {
		converted.CacheReadInputTokens = usage.PromptTokensDetails.CachedTokens
	}
	return converted
}

func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
