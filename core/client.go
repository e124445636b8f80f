package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// API types recorded in the usage ledger.
const (
	APITypeOpenAI = "openai"
	APITypeAzure  = "azure"
)

// BackendClient performs chat completion calls against the configured
// backend. One attempt per request; retry policy belongs to the caller.
type BackendClient struct {
	client  *openai.Client
	baseURL string
	apiType string
	timeout time.Duration
	usage   *UsageRecorder
}

// NewBackendClient builds a client for the configured backend. Setting
// AZURE_API_VERSION switches to the Azure OpenAI request shape.
func NewBackendClient(cfg *Config, usage *UsageRecorder) *BackendClient {
	var clientConfig openai.ClientConfig
	apiType := APITypeOpenAI
	if cfg.IsAzure() {
		clientConfig = openai.DefaultAzureConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		clientConfig.APIVersion = cfg.AzureAPIVersion
		apiType = APITypeAzure
	} else {
		clientConfig = openai.DefaultConfig(cfg.OpenAIAPIKey)
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	// No http.Client timeout: it would cap total stream duration. Buffered
	// calls get a per-call context deadline instead.
	clientConfig.HTTPClient = &http.Client{}

	return &BackendClient{
		client:  openai.NewClientWithConfig(clientConfig),
		baseURL: cfg.OpenAIBaseURL,
		apiType: apiType,
		timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		usage:   usage,
	}
}

// BaseURL returns the configured backend base URL.
func (b *BackendClient) BaseURL() string {
	return b.baseURL
}

// CreateChatCompletion performs one buffered chat completion call. A non-nil
// error is always a *BridgeError.
func (b *BackendClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest, requestID string) (openai.ChatCompletionResponse, error) {
	slog.InfoContext(ctx, "backend request",
		"request_id", requestID, "model", req.Model, "base_url", b.baseURL, "stream", false)

	start := time.Now()
	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.client.CreateChatCompletion(callCtx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		bridgeErr := TranslateBackendError(err)
		slog.ErrorContext(ctx, "backend request failed",
			"request_id", requestID, "model", req.Model, "status", bridgeErr.Status, "error", bridgeErr.Message)
		b.usage.Append(UsageRecord{
			Timestamp: start,
			RequestID: requestID,
			Model:     req.Model,
			BaseURL:   b.baseURL,
			APIType:   b.apiType,
			LatencyMS: latency,
			Status:    UsageStatusError,
			Error:     usageErrorLabel(bridgeErr),
		})
		return openai.ChatCompletionResponse{}, bridgeErr
	}

	cacheRead := 0
	if resp.Usage.PromptTokensDetails != nil {
		cacheRead = resp.Usage.PromptTokensDetails.CachedTokens
	}
	slog.InfoContext(ctx, "backend request done",
		"request_id", requestID, "model", req.Model,
		"input_tokens", resp.Usage.PromptTokens, "output_tokens", resp.Usage.CompletionTokens,
		"cache_read_tokens", cacheRead, "latency_ms", latency)
	b.usage.Append(UsageRecord{
		Timestamp:            start,
		RequestID:            requestID,
		Model:                req.Model,
		BaseURL:              b.baseURL,
		APIType:              b.apiType,
		InputTokens:          resp.Usage.PromptTokens,
		OutputTokens:         resp.Usage.CompletionTokens,
		CacheReadInputTokens: cacheRead,
		TotalTokens:          resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		LatencyMS:            latency,
		Status:               UsageStatusSuccess,
	})
	return resp, nil
}

// CreateChatCompletionStream opens a streaming chat completion call. Stream
// mode and usage reporting on the final chunk are forced on. A non-nil error
// is always a *BridgeError.
func (b *BackendClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest, requestID string) (*ChatStream, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &openai.StreamOptions{}
	}
	req.StreamOptions.IncludeUsage = true

	slog.InfoContext(ctx, "backend request",
		"request_id", requestID, "model", req.Model, "base_url", b.baseURL, "stream", true)

	start := time.Now()
	stream, err := b.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		bridgeErr := TranslateBackendError(err)
		slog.ErrorContext(ctx, "backend stream open failed",
			"request_id", requestID, "model", req.Model, "status", bridgeErr.Status, "error", bridgeErr.Message)
		b.usage.Append(UsageRecord{
			Timestamp: start,
			RequestID: requestID,
			IsStream:  true,
			Model:     req.Model,
			BaseURL:   b.baseURL,
			APIType:   b.apiType,
			LatencyMS: time.Since(start).Milliseconds(),
			Status:    UsageStatusError,
			Error:     usageErrorLabel(bridgeErr),
		})
		return nil, bridgeErr
	}

	return &ChatStream{
		inner:     stream,
		client:    b,
		requestID: requestID,
		model:     req.Model,
		start:     start,
	}, nil
}

// ChatStream is a forward-only sequence of backend fragments. It tracks the
// trailing usage chunk and writes one ledger row when the stream ends, fails
// or is abandoned.
type ChatStream struct {
	inner     *openai.ChatCompletionStream
	client    *BackendClient
	requestID string
	model     string
	start     time.Time
	lastUsage *openai.Usage
	done      bool
}

// Recv returns the next fragment. io.EOF marks the normal end of the stream;
// any other non-nil error is a *BridgeError.
func (s *ChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return chunk, io.EOF
		}
		bridgeErr := TranslateBackendError(err)
		s.finish(bridgeErr)
		return chunk, bridgeErr
	}
	if chunk.Usage != nil {
		s.lastUsage = chunk.Usage
	}
	return chunk, nil
}

// Close releases the underlying connection. A stream abandoned before its
// natural end is recorded as cancelled.
func (s *ChatStream) Close() error {
	if !s.done {
		s.finish(&BridgeError{
			Kind:    KindCancelled,
			Status:  StatusClientClosedRequest,
			Message: "Request cancelled by client",
		})
	}
	return s.inner.Close()
}

func (s *ChatStream) finish(bridgeErr *BridgeError) {
	if s.done {
		return
	}
	s.done = true

	latency := time.Since(s.start).Milliseconds()
	rec := UsageRecord{
		Timestamp: s.start,
		RequestID: s.requestID,
		IsStream:  true,
		Model:     s.model,
		BaseURL:   s.client.baseURL,
		APIType:   s.client.apiType,
		LatencyMS: latency,
	}

	if bridgeErr != nil {
		rec.Status = UsageStatusError
		rec.Error = usageErrorLabel(bridgeErr)
		slog.Error("backend stream failed",
			"request_id", s.requestID, "model", s.model, "status", bridgeErr.Status, "error", bridgeErr.Message)
	} else {
		if s.lastUsage != nil {
			rec.InputTokens = s.lastUsage.PromptTokens
			rec.OutputTokens = s.lastUsage.CompletionTokens
			if s.lastUsage.PromptTokensDetails != nil {
				rec.CacheReadInputTokens = s.lastUsage.PromptTokensDetails.CachedTokens
			}
			rec.TotalTokens = rec.InputTokens + rec.OutputTokens
		}
		rec.Status = UsageStatusSuccess
		slog.Info("backend stream done",
			"request_id", s.requestID, "model", s.model,
			"input_tokens", rec.InputTokens, "output_tokens", rec.OutputTokens,
			"cache_read_tokens", rec.CacheReadInputTokens, "latency_ms", latency)
	}

	s.client.usage.Append(rec)
}
