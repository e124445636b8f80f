package conversion

import (
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/core"
	"claude-openai-bridge/models"
)

// emptyObjectSchema stands in for tools declared without an input schema;
// the backend rejects a null parameters field.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ConvertClaudeToOpenAI translates a Claude Messages request into a chat
// completion request for the backend. Validation failures return a
// *core.BridgeError and the request never reaches the backend.
func ConvertClaudeToOpenAI(claudeRequest *models.ClaudeMessagesRequest, mapper *core.ModelMapper, cfg *core.Config) (*openai.ChatCompletionRequest, error) {
	convertedMessages := []openai.ChatCompletionMessage{}

	if systemText := joinSystemText(claudeRequest.System); systemText != "" {
		convertedMessages = append(convertedMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemText,
		})
	}

	// Tool call ids declared by assistant turns so far. Every tool_result
	// must reference one of them; backends validate the correspondence.
	seenToolIDs := map[string]bool{}

	for i, msg := range claudeRequest.Messages {
		switch msg.Role {
		case models.RoleUser:
			userMessages, err := convertUserMessage(i, msg, seenToolIDs)
			if err != nil {
				return nil, err
			}
			convertedMessages = append(convertedMessages, userMessages...)
		case models.RoleAssistant:
			assistantMessage, err := convertAssistantMessage(i, msg, seenToolIDs)
			if err != nil {
				return nil, err
			}
			convertedMessages = append(convertedMessages, assistantMessage)
		default:
			return nil, core.NewValidationError("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}

	var openaiTools []openai.Tool
	for _, tool := range claudeRequest.Tools {
		if tool.Name == "" {
			continue
		}
		parameters := tool.InputSchema
		if len(parameters) == 0 {
			parameters = emptyObjectSchema
		}
		openaiTools = append(openaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  parameters,
			},
		})
	}

	toolChoice, err := convertToolChoice(claudeRequest.ToolChoice)
	if err != nil {
		return nil, err
	}

	openaiRequest := &openai.ChatCompletionRequest{
		Model:      mapper.Map(claudeRequest.Model),
		MaxTokens:  clampMaxTokens(claudeRequest.MaxTokens, cfg.MinTokensLimit, cfg.MaxTokensLimit),
		Messages:   convertedMessages,
		Stop:       claudeRequest.StopSequences,
		Stream:     claudeRequest.Stream,
		Tools:      openaiTools,
		ToolChoice: toolChoice,
	}
	if claudeRequest.Temperature != nil {
		openaiRequest.Temperature = *claudeRequest.Temperature
	}
	if claudeRequest.TopP != nil {
		openaiRequest.TopP = *claudeRequest.TopP
	}
	if claudeRequest.Stream {
		openaiRequest.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return openaiRequest, nil
}

// joinSystemText concatenates the text blocks of a system prompt with blank
// lines, trimming surrounding whitespace.
func joinSystemText(system models.ClaudeSystem) string {
	if len(system) == 0 {
		return ""
	}
	textParts := make([]string, 0, len(system))
	for _, block := range system {
		if block.Type == models.ContentTypeText || block.Type == "" {
			textParts = append(textParts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(textParts, "\n\n"))
}

// convertUserMessage translates one user turn. tool_result blocks become
// tool-role messages placed before the visible user content, so they directly
// follow the assistant turn that issued the calls.
func convertUserMessage(index int, msg models.ClaudeMessage, seenToolIDs map[string]bool) ([]openai.ChatCompletionMessage, error) {
	var toolMessages []openai.ChatCompletionMessage
	var visibleParts []openai.ChatMessagePart
	hasImage := false

	for _, block := range msg.Content {
		switch block.Type {
		case models.ContentTypeText:
			visibleParts = append(visibleParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: block.Text,
			})
		case models.ContentTypeImage:
			part, err := convertImageBlock(index, block)
			if err != nil {
				return nil, err
			}
			visibleParts = append(visibleParts, part)
			hasImage = true
		case models.ContentTypeToolResult:
			if !seenToolIDs[block.ToolUseID] {
				return nil, core.NewValidationError(
					"messages[%d]: tool_result references unknown tool_use id %q", index, block.ToolUseID)
			}
			toolMessages = append(toolMessages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    flattenToolResultContent(block.Content),
				ToolCallID: block.ToolUseID,
			})
		default:
			return nil, core.NewValidationError(
				"messages[%d]: unsupported content block type %q in user message", index, block.Type)
		}
	}

	messages := toolMessages
	switch {
	case len(visibleParts) == 0 && len(toolMessages) > 0:
		// Pure tool_result turn, nothing visible to forward.
	case len(visibleParts) == 1 && !hasImage:
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: visibleParts[0].Text,
		})
	case hasImage:
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: visibleParts,
		})
	default:
		textParts := make([]string, len(visibleParts))
		for i, part := range visibleParts {
			textParts[i] = part.Text
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: strings.Join(textParts, "\n\n"),
		})
	}
	return messages, nil
}

// convertImageBlock turns a base64 image block into an image_url part using
// a data URL; payload and media type are preserved verbatim.
func convertImageBlock(index int, block models.ClaudeContentBlock) (openai.ChatMessagePart, error) {
	if block.Source == nil {
		return openai.ChatMessagePart{}, core.NewValidationError(
			"messages[%d]: image block is missing its source", index)
	}
	if block.Source.Type != models.ImageSourceBase64 {
		return openai.ChatMessagePart{}, core.NewValidationError(
			"messages[%d]: image source type %q is not supported (only base64)", index, block.Source.Type)
	}
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL: "data:" + block.Source.MediaType + ";base64," + block.Source.Data,
		},
	}, nil
}

// convertAssistantMessage translates one assistant turn, attaching tool_use
// blocks as tool calls and recording their ids for later correlation.
func convertAssistantMessage(index int, msg models.ClaudeMessage, seenToolIDs map[string]bool) (openai.ChatCompletionMessage, error) {
	var textParts []string
	var toolCalls []openai.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case models.ContentTypeText:
			textParts = append(textParts, block.Text)
		case models.ContentTypeToolUse:
			arguments := "{}"
			if len(block.Input) > 0 {
				arguments = string(block.Input)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: arguments,
				},
			})
			seenToolIDs[block.ID] = true
		default:
			return openai.ChatCompletionMessage{}, core.NewValidationError(
				"messages[%d]: unsupported content block type %q in assistant message", index, block.Type)
		}
	}

	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   strings.Join(textParts, ""),
		ToolCalls: toolCalls,
	}, nil
}

// flattenToolResultContent renders a tool_result content field as the plain
// string the tool role requires. Non-text blocks are serialized as JSON
// rather than dropped.
func flattenToolResultContent(content *models.ClaudeToolContent) string {
	if content == nil || len(*content) == 0 {
		return "No content provided"
	}
	resultParts := make([]string, 0, len(*content))
	for _, block := range *content {
		if block.Type == models.ContentTypeText {
			resultParts = append(resultParts, block.Text)
			continue
		}
		if serialized, err := json.Marshal(block); err == nil {
			resultParts = append(resultParts, string(serialized))
		}
	}
	return strings.Join(resultParts, "\n")
}

// convertToolChoice maps the Claude tool_choice modes onto the backend's
// enumeration: auto stays auto, any forces a call, tool names one function.
func convertToolChoice(choice *models.ClaudeToolChoice) (any, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Type {
	case models.ToolChoiceAuto:
		return "auto", nil
	case models.ToolChoiceAny:
		return "required", nil
	case "none":
		return "none", nil
	case models.ToolChoiceTool:
		if choice.Name == "" {
			return nil, core.NewValidationError("tool_choice of type tool requires a name")
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Name},
		}, nil
	}
	return nil, core.NewValidationError("unsupported tool_choice type %q", choice.Type)
}

// clampMaxTokens keeps the completion budget inside the configured window. A
// missing value takes the minimum rather than being omitted, since some
// backends require max_tokens.
func clampMaxTokens(requested, minLimit, maxLimit int) int {
	if requested < minLimit {
		return minLimit
	}
	if maxLimit > 0 && requested > maxLimit {
		return maxLimit
	}
	return requested
}
