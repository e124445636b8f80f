package core

import "testing"

func TestModelMapperMap(t *testing.T) {
	mapper := &ModelMapper{
		BigModel:    "gpt-4o",
		MiddleModel: "gpt-4.1",
		SmallModel:  "gpt-4o-mini",
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"haiku to small tier", "claude-3-5-haiku-20241022", "gpt-4o-mini"},
		{"sonnet to middle tier", "claude-3-5-sonnet-20241022", "gpt-4.1"},
		{"sonnet four to middle tier", "claude-sonnet-4-20250514", "gpt-4.1"},
		{"opus to big tier", "claude-3-opus-20240229", "gpt-4o"},
		{"case insensitive keyword", "Claude-3-OPUS-latest", "gpt-4o"},
		{"gpt passthrough", "gpt-4-custom", "gpt-4-custom"},
		{"o1 passthrough", "o1-preview", "o1-preview"},
		{"ark endpoint passthrough", "ep-20240101-abcdef", "ep-20240101-abcdef"},
		{"doubao passthrough", "doubao-pro-32k", "doubao-pro-32k"},
		{"deepseek passthrough", "deepseek-chat", "deepseek-chat"},
		{"unknown falls back to big", "totally-unknown-model", "gpt-4o"},
		{"empty falls back to big", "", "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapper.Map(tt.input); got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewModelMapperFromConfig(t *testing.T) {
	cfg := &Config{BigModel: "big", MiddleModel: "mid", SmallModel: "small"}
	mapper := NewModelMapper(cfg)
	if got := mapper.Map("claude-3-5-haiku-20241022"); got != "small" {
		t.Errorf("expected configured small tier, got %q", got)
	}
	if got := mapper.Map("claude-sonnet-4-20250514"); got != "mid" {
		t.Errorf("expected configured middle tier, got %q", got)
	}
}
