package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/conversion"
	"claude-openai-bridge/core"
	"claude-openai-bridge/models"
)

// CreateMessage implements POST /v1/messages: bind and validate the Claude
// request, convert it, dispatch it to the backend, and convert the result
// back. Streaming requests hand off to the SSE path after conversion.
func (s *Server) CreateMessage(c *gin.Context) {
	var claudeRequest models.ClaudeMessagesRequest
	if err := c.ShouldBindJSON(&claudeRequest); err != nil {
		writeError(c, core.NewValidationError("invalid request body: %v", err))
		return
	}
	if claudeRequest.Model == "" {
		writeError(c, core.NewValidationError("model is required"))
		return
	}
	if len(claudeRequest.Messages) == 0 {
		writeError(c, core.NewValidationError("messages must not be empty"))
		return
	}

	openaiRequest, err := conversion.ConvertClaudeToOpenAI(&claudeRequest, s.mapper, s.cfg)
	if err != nil {
		writeError(c, err)
		return
	}

	requestID := requestIDFrom(c)
	slog.Debug("message request",
		"request_id", requestID,
		"model", claudeRequest.Model,
		"mapped_model", openaiRequest.Model,
		"stream", claudeRequest.Stream,
		"messages", len(openaiRequest.Messages),
	)

	if claudeRequest.Stream {
		s.streamMessage(c, requestID, &claudeRequest, openaiRequest)
		return
	}

	backendResponse, err := s.client.CreateChatCompletion(c.Request.Context(), *openaiRequest, requestID)
	if err != nil {
		writeError(c, err)
		return
	}

	claudeResponse, err := conversion.ConvertOpenAIToClaudeResponse(backendResponse, &claudeRequest)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, claudeResponse)
}

// streamMessage relays the backend stream as Claude SSE events. The backend
// stream is drained to EOF even after the converter has finalized, so the
// trailing usage chunk is consumed and the request is accounted as complete.
func (s *Server) streamMessage(c *gin.Context, requestID string, claudeRequest *models.ClaudeMessagesRequest, openaiRequest *openai.ChatCompletionRequest) {
	stream, err := s.client.CreateChatCompletionStream(c.Request.Context(), *openaiRequest, requestID)
	if err != nil {
		// Nothing has been written yet, so a plain JSON error still works.
		writeError(c, err)
		return
	}
	defer stream.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "*")

	converter := conversion.NewStreamConverter(claudeRequest.Model)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				writeEvents(c, converter.Finish())
				return
			}

			// Close any open block before surfacing the failure; the stream
			// must not end on a dangling content_block_start.
			writeEvents(c, converter.Abort())

			bridgeErr := core.TranslateBackendError(err)
			if bridgeErr.Kind == core.KindCancelled {
				// The client is gone; there is nobody left to tell.
				return
			}
			slog.Error("stream receive failed", "request_id", requestID, "error", bridgeErr)
			writeEvent(c, models.StreamEvent{Event: models.EventError, Data: bridgeErr.Response()})
			return
		}

		writeEvents(c, converter.Next(chunk))
	}
}

// writeEvent emits one SSE frame and flushes it immediately; Claude clients
// act on events as they arrive.
func writeEvent(c *gin.Context, event models.StreamEvent) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		slog.Error("encode stream event", "event", event.Event, "error", err)
		return
	}
	c.Writer.WriteString("event: " + event.Event + "\ndata: ")
	c.Writer.Write(payload)
	c.Writer.WriteString("\n\n")
	c.Writer.Flush()
}

func writeEvents(c *gin.Context, events []models.StreamEvent) {
	for _, event := range events {
		writeEvent(c, event)
	}
}
