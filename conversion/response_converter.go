package conversion

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/core"
	"claude-openai-bridge/models"
)

// ConvertOpenAIToClaudeResponse translates one buffered chat completion into
// a Claude messages response. The response is attributed to the model the
// client asked for, not the backend identifier it was mapped to.
func ConvertOpenAIToClaudeResponse(openaiResponse openai.ChatCompletionResponse, originalRequest *models.ClaudeMessagesRequest) (*models.ClaudeMessagesResponse, error) {
	if len(openaiResponse.Choices) == 0 {
		return nil, core.NewDecodeError("backend response contained no choices", nil)
	}

	choice := openaiResponse.Choices[0]
	message := choice.Message

	contentBlocks := []models.ClaudeResponseBlock{}
	if message.Content != "" {
		contentBlocks = append(contentBlocks, models.ClaudeResponseBlock{
			Type: models.ContentTypeText,
			Text: message.Content,
		})
	}
	for _, toolCall := range message.ToolCalls {
		if toolCall.Type != "" && toolCall.Type != openai.ToolTypeFunction {
			continue
		}
		contentBlocks = append(contentBlocks, models.ClaudeResponseBlock{
			Type:  models.ContentTypeToolUse,
			ID:    toolCall.ID,
			Name:  toolCall.Function.Name,
			Input: normalizeToolArguments(toolCall.Function.Arguments),
		})
	}
	// Clients index content[0]; never return an empty array.
	if len(contentBlocks) == 0 {
		contentBlocks = append(contentBlocks, models.ClaudeResponseBlock{
			Type: models.ContentTypeText,
			Text: "",
		})
	}

	stopReason := MapFinishReason(choice.FinishReason)

	id := openaiResponse.ID
	if id == "" {
		id = NewMessageID()
	}

	cacheRead := 0
	if openaiResponse.Usage.PromptTokensDetails != nil {
		cacheRead = openaiResponse.Usage.PromptTokensDetails.CachedTokens
	}

	return &models.ClaudeMessagesResponse{
		ID:         id,
		Type:       models.MessageResponseType,
		Role:       models.RoleAssistant,
		Model:      originalRequest.Model,
		Content:    contentBlocks,
		StopReason: &stopReason,
		Usage: models.ClaudeUsage{
			InputTokens:          openaiResponse.Usage.PromptTokens,
			OutputTokens:         openaiResponse.Usage.CompletionTokens,
			CacheReadInputTokens: cacheRead,
		},
	}, nil
}

// MapFinishReason normalizes a backend finish reason into the Claude stop
// reason vocabulary. Chat Completions never reports which stop string
// matched, so "stop" maps to end_turn rather than stop_sequence.
func MapFinishReason(finishReason openai.FinishReason) string {
	switch finishReason {
	case openai.FinishReasonLength:
		return models.StopReasonMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.StopReasonToolUse
	}
	return models.StopReasonEndTurn
}

// normalizeToolArguments turns a backend arguments string into the input
// object of a tool_use block. Arguments that do not parse as a JSON object
// are preserved under raw_input instead of being discarded.
func normalizeToolArguments(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	fallback, err := json.Marshal(map[string]string{"raw_input": arguments})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return fallback
}

// NewMessageID generates a Claude-style message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
