package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config carries every runtime setting of the bridge. It is loaded once from
// the environment and passed explicitly to the components that need it; there
// is no global instance.
type Config struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OpenAIBaseURL   string
	AzureAPIVersion string
	Host            string
	Port            int
	LogLevel        string
	LogFormat       string
	MaxTokensLimit  int
	MinTokensLimit  int
	RequestTimeout  int
	BigModel        string
	MiddleModel     string
	SmallModel      string
	UsageStatsPath  string
}

// LoadConfig reads the configuration from environment variables. The backend
// API key is the only required setting.
func LoadConfig() (*Config, error) {
	openaiAPIKey := os.Getenv("OPENAI_API_KEY")
	if openaiAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not found in environment variables")
	}

	anthropicAPIKey := os.Getenv("ANTHROPIC_API_KEY")
	if anthropicAPIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY not set, client API key validation is disabled")
	}

	bigModel := getEnvOrDefault("BIG_MODEL", "gpt-4o")

	return &Config{
		OpenAIAPIKey:    openaiAPIKey,
		AnthropicAPIKey: anthropicAPIKey,
		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AzureAPIVersion: os.Getenv("AZURE_API_VERSION"),
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            getEnvAsIntOrDefault("PORT", 8082),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "text"),
		MaxTokensLimit:  getEnvAsIntOrDefault("MAX_TOKENS_LIMIT", 4096),
		MinTokensLimit:  getEnvAsIntOrDefault("MIN_TOKENS_LIMIT", 100),
		RequestTimeout:  getEnvAsIntOrDefault("REQUEST_TIMEOUT", 90),
		BigModel:        bigModel,
		MiddleModel:     getEnvOrDefault("MIDDLE_MODEL", bigModel),
		SmallModel:      getEnvOrDefault("SMALL_MODEL", "gpt-4o-mini"),
		UsageStatsPath:  getEnvOrDefault("USAGE_STATS_PATH", "./openai_usage.tsv"),
	}, nil
}

func getEnvOrDefault(envKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(envKey string, defaultValue int) int {
	if value := os.Getenv(envKey); value != "" {
		intVal, err := strconv.Atoi(value)
		if err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsAzure reports whether the backend is Azure OpenAI, selected by setting
// AZURE_API_VERSION.
func (c *Config) IsAzure() bool {
	return c.AzureAPIVersion != ""
}

// ValidateAPIKey does a basic format check on the backend key.
func (c *Config) ValidateAPIKey() bool {
	return strings.HasPrefix(strings.ToLower(c.OpenAIAPIKey), "sk-")
}

// ValidateClientAPIKey checks the key a client presented. Validation is
// disabled when no ANTHROPIC_API_KEY is configured.
func (c *Config) ValidateClientAPIKey(clientAPIKey string) bool {
	if c.AnthropicAPIKey == "" {
		return true
	}
	return clientAPIKey == c.AnthropicAPIKey
}

// LogSummary logs the effective configuration with credentials masked.
func (c *Config) LogSummary() {
	slog.Info("configuration loaded",
		"base_url", c.OpenAIBaseURL,
		"azure_api_version", c.AzureAPIVersion,
		"openai_api_key", maskKey(c.OpenAIAPIKey),
		"client_validation", c.AnthropicAPIKey != "",
		"listen", c.Address(),
		"big_model", c.BigModel,
		"middle_model", c.MiddleModel,
		"small_model", c.SmallModel,
		"max_tokens_limit", c.MaxTokensLimit,
		"min_tokens_limit", c.MinTokensLimit,
		"request_timeout", c.RequestTimeout,
		"usage_stats_path", c.UsageStatsPath,
	)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
