package endpoints

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/core"
	"claude-openai-bridge/models"
)

// Server bundles the handler dependencies. Everything is passed in through
// the constructor; the package keeps no global state.
type Server struct {
	cfg    *core.Config
	mapper *core.ModelMapper
	client *core.BackendClient
}

func NewServer(cfg *core.Config) *Server {
	return &Server{
		cfg:    cfg,
		mapper: core.NewModelMapper(cfg),
		client: core.NewBackendClient(cfg, core.NewUsageRecorder(cfg.UsageStatsPath)),
	}
}

// Router assembles the gin engine: request logging, panic recovery, the
// client key gate on the Claude API surface, and the service routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	api := router.Group("/v1", s.ValidateAPI)
	api.POST("/messages", s.CreateMessage)
	api.POST("/messages/count_tokens", s.CountTokens)

	router.GET("/health", s.HealthCheck)
	router.GET("/test-connection", s.TestConnection)
	router.GET("/", s.RootEndpoint)

	return router
}

const requestIDKey = "request_id"

// requestLogger assigns each request an id and writes one summary line when
// the handler returns.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
		c.Set(requestIDKey, requestID)

		start := time.Now()
		c.Next()

		slog.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// ValidateAPI enforces the client key when ANTHROPIC_API_KEY is configured.
// Claude clients send it as x-api-key; some SDK setups use a bearer token.
func (s *Server) ValidateAPI(c *gin.Context) {
	clientAPIKey := c.GetHeader("x-api-key")
	if clientAPIKey == "" {
		if authorization := c.GetHeader("Authorization"); strings.HasPrefix(authorization, "Bearer ") {
			clientAPIKey = strings.TrimPrefix(authorization, "Bearer ")
		}
	}

	if !s.cfg.ValidateClientAPIKey(clientAPIKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewErrorResponse(
			models.ErrTypeAuthentication,
			"Invalid API key. Please provide a valid Anthropic API key."))
		return
	}

	c.Next()
}

// writeError renders any pipeline error as a Claude error envelope with the
// mapped HTTP status.
func writeError(c *gin.Context, err error) {
	bridgeErr := core.TranslateBackendError(err)
	c.JSON(bridgeErr.Status, bridgeErr.Response())
}

// CountTokens implements POST /v1/messages/count_tokens with the rough
// four-characters-per-token estimate. It never calls the backend.
func (s *Server) CountTokens(c *gin.Context) {
	var countRequest models.ClaudeTokenCountRequest
	if err := c.ShouldBindJSON(&countRequest); err != nil {
		writeError(c, core.NewValidationError("invalid request body: %v", err))
		return
	}

	totalChars := 0
	for _, block := range countRequest.System {
		totalChars += len(block.Text)
	}
	for _, msg := range countRequest.Messages {
		for _, block := range msg.Content {
			totalChars += len(block.Text)
			totalChars += len(block.Name) + len(block.Input)
			if block.Content != nil {
				for _, nested := range *block.Content {
					totalChars += len(nested.Text)
				}
			}
		}
	}
	for _, tool := range countRequest.Tools {
		totalChars += len(tool.Name) + len(tool.Description) + len(tool.InputSchema)
	}

	estimatedTokens := totalChars / 4
	if estimatedTokens == 0 {
		estimatedTokens = 1
	}

	c.JSON(http.StatusOK, models.ClaudeTokenCountResponse{InputTokens: estimatedTokens})
}

func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "healthy",
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
		"openai_api_configured": s.cfg.OpenAIAPIKey != "",
		"api_key_valid_format":  s.cfg.ValidateAPIKey(),
		"client_auth_enabled":   s.cfg.AnthropicAPIKey != "",
	})
}

// TestConnection sends a tiny completion through the configured backend so a
// misconfigured key or base URL shows up before real traffic does.
func (s *Server) TestConnection(c *gin.Context) {
	probe := openai.ChatCompletionRequest{
		Model:     s.cfg.SmallModel,
		MaxTokens: 5,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hello!"},
		},
	}

	backendResponse, err := s.client.CreateChatCompletion(c.Request.Context(), probe, requestIDFrom(c))
	if err != nil {
		bridgeErr := core.TranslateBackendError(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "failed",
			"message":   bridgeErr.Message,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"suggestions": []string{
				"Check your OPENAI_API_KEY is valid",
				"Verify your API key has the necessary permissions",
				"Check whether you have hit a rate limit",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     "Successfully connected to OpenAI API",
		"model_used":  probe.Model,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"response_id": backendResponse.ID,
	})
}

func (s *Server) RootEndpoint(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Claude-to-OpenAI API Bridge v1.0.0",
		"status":  "running",
		"config": gin.H{
			"openai_base_url":     s.client.BaseURL(),
			"max_tokens_limit":    s.cfg.MaxTokensLimit,
			"api_key_configured":  s.cfg.ValidateAPIKey(),
			"client_auth_enabled": s.cfg.AnthropicAPIKey != "",
			"big_model":           s.cfg.BigModel,
			"middle_model":        s.cfg.MiddleModel,
			"small_model":         s.cfg.SmallModel,
		},
		"endpoints": gin.H{
			"messages":        "/v1/messages",
			"count_tokens":    "/v1/messages/count_tokens",
			"health":          "/health",
			"test_connection": "/test-connection",
		},
	})
}
