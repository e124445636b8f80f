package conversion

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/core"
	"claude-openai-bridge/models"
)

func testMapper() *core.ModelMapper {
	return &core.ModelMapper{
		BigModel:    "gpt-4o",
		MiddleModel: "gpt-4.1",
		SmallModel:  "gpt-4o-mini",
	}
}

func testConfig() *core.Config {
	return &core.Config{MinTokensLimit: 100, MaxTokensLimit: 4096}
}

func decodeRequest(t *testing.T, raw string) *models.ClaudeMessagesRequest {
	t.Helper()
	var req models.ClaudeMessagesRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("decode request fixture: %v", err)
	}
	return &req
}

func TestConvertSystemPrompt(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"system": [{"type":"text","text":"Be terse."},{"type":"text","text":"Answer in French."}],
		"messages": [{"role":"user","content":"hi"}]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first message role = %q, want system", out.Messages[0].Role)
	}
	if out.Messages[0].Content != "Be terse.\n\nAnswer in French." {
		t.Errorf("system text = %q", out.Messages[0].Content)
	}
	if out.Model != "gpt-4.1" {
		t.Errorf("model = %q, want the middle tier", out.Model)
	}
}

func TestConvertSystemStringAndBlankSkipped(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-haiku-20241022",
		"max_tokens": 512,
		"system": "  ",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Messages[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("blank system prompt should be dropped, got role %q", out.Messages[0].Role)
	}
}

func TestConvertUserMultimodal(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"messages": [{"role":"user","content":[
			{"type":"text","text":"what is in this picture?"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aWRr"}}
		]}]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	msg := out.Messages[0]
	if msg.Content != "" {
		t.Errorf("multimodal message should use MultiContent, found Content %q", msg.Content)
	}
	if len(msg.MultiContent) != 2 {
		t.Fatalf("MultiContent has %d parts, want 2", len(msg.MultiContent))
	}
	if msg.MultiContent[0].Type != openai.ChatMessagePartTypeText {
		t.Errorf("part 0 type = %q", msg.MultiContent[0].Type)
	}
	image := msg.MultiContent[1]
	if image.Type != openai.ChatMessagePartTypeImageURL || image.ImageURL == nil {
		t.Fatalf("part 1 is not an image part: %+v", image)
	}
	if image.ImageURL.URL != "data:image/png;base64,aWRr" {
		t.Errorf("image data URL = %q", image.ImageURL.URL)
	}
}

func TestConvertUserTextBlocksJoined(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"messages": [{"role":"user","content":[
			{"type":"text","text":"first"},
			{"type":"text","text":"second"}
		]}]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Messages[0].Content != "first\n\nsecond" {
		t.Errorf("joined text = %q", out.Messages[0].Content)
	}
}

func TestConvertToolUseAndResultPairing(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"messages": [
			{"role":"user","content":"weather in Oslo?"},
			{"role":"assistant","content":[
				{"type":"text","text":"Checking."},
				{"type":"tool_use","id":"call_w1","name":"get_weather","input":{"city":"Oslo"}}
			]},
			{"role":"user","content":[
				{"type":"tool_result","tool_use_id":"call_w1","content":"12 degrees"},
				{"type":"text","text":"and tomorrow?"}
			]}
		]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	roles := make([]string, len(out.Messages))
	for i, m := range out.Messages {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "user"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", roles, want)
	}

	assistant := out.Messages[1]
	if assistant.Content != "Checking." {
		t.Errorf("assistant text = %q", assistant.Content)
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %d, want 1", len(assistant.ToolCalls))
	}
	call := assistant.ToolCalls[0]
	if call.ID != "call_w1" || call.Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", call)
	}
	if call.Function.Arguments != `{"city":"Oslo"}` {
		t.Errorf("tool arguments = %q", call.Function.Arguments)
	}

	toolMsg := out.Messages[2]
	if toolMsg.ToolCallID != "call_w1" {
		t.Errorf("tool message ToolCallID = %q, want call_w1", toolMsg.ToolCallID)
	}
	if toolMsg.Content != "12 degrees" {
		t.Errorf("tool message content = %q", toolMsg.Content)
	}
}

func TestConvertDanglingToolResultFails(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"messages": [
			{"role":"user","content":[
				{"type":"tool_result","tool_use_id":"call_ghost","content":"data"}
			]}
		]
	}`)
	_, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err == nil {
		t.Fatal("expected validation error for dangling tool_result")
	}
	var bridgeErr *core.BridgeError
	if !errors.As(err, &bridgeErr) {
		t.Fatalf("expected *core.BridgeError, got %T", err)
	}
	if bridgeErr.Kind != core.KindValidation || bridgeErr.Status != 400 {
		t.Errorf("unexpected error classification: %+v", bridgeErr)
	}
	if !strings.Contains(bridgeErr.Message, "call_ghost") {
		t.Errorf("error should name the dangling id: %q", bridgeErr.Message)
	}
}

func TestConvertUnsupportedBlockAndRole(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"unknown user block",
			`{"model":"m","max_tokens":1,"messages":[{"role":"user","content":[{"type":"document"}]}]}`,
			`"document"`,
		},
		{
			"tool_use in user message",
			`{"model":"m","max_tokens":1,"messages":[{"role":"user","content":[{"type":"tool_use","id":"x","name":"f"}]}]}`,
			`"tool_use"`,
		},
		{
			"tool_result in assistant message",
			`{"model":"m","max_tokens":1,"messages":[{"role":"assistant","content":[{"type":"tool_result","tool_use_id":"x"}]}]}`,
			`"tool_result"`,
		},
		{
			"unknown role",
			`{"model":"m","max_tokens":1,"messages":[{"role":"function","content":"x"}]}`,
			`"function"`,
		},
		{
			"url image source",
			`{"model":"m","max_tokens":1,"messages":[{"role":"user","content":[{"type":"image","source":{"type":"url","url":"https://x/y.png"}}]}]}`,
			"only base64",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertClaudeToOpenAI(decodeRequest(t, tt.raw), testMapper(), testConfig())
			if err == nil {
				t.Fatal("expected validation error")
			}
			var bridgeErr *core.BridgeError
			if !errors.As(err, &bridgeErr) || bridgeErr.Kind != core.KindValidation {
				t.Fatalf("expected validation BridgeError, got %v", err)
			}
			if !strings.Contains(bridgeErr.Message, tt.want) {
				t.Errorf("message %q does not mention %q", bridgeErr.Message, tt.want)
			}
		})
	}
}

func TestConvertToolDefinitions(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 512,
		"messages": [{"role":"user","content":"hi"}],
		"tools": [
			{"name":"get_weather","description":"Weather lookup","input_schema":{"type":"object","properties":{"city":{"type":"string"}}}},
			{"name":"","description":"nameless is skipped"},
			{"name":"no_schema"}
		]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out.Tools) != 2 {
		t.Fatalf("tools = %d, want 2 (nameless skipped)", len(out.Tools))
	}
	weather := out.Tools[0].Function
	if weather.Name != "get_weather" || weather.Description != "Weather lookup" {
		t.Errorf("tool definition = %+v", weather)
	}
	schema, _ := json.Marshal(weather.Parameters)
	if !strings.Contains(string(schema), `"city"`) {
		t.Errorf("schema not passed through: %s", schema)
	}
	fallback, _ := json.Marshal(out.Tools[1].Function.Parameters)
	if string(fallback) != `{"type":"object","properties":{}}` {
		t.Errorf("missing schema should default to an empty object schema, got %s", fallback)
	}
}

func TestConvertToolChoice(t *testing.T) {
	base := `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}],"tool_choice":%s}`
	tests := []struct {
		name   string
		choice string
		want   any
	}{
		{"auto", `{"type":"auto"}`, "auto"},
		{"any becomes required", `{"type":"any"}`, "required"},
		{"none", `{"type":"none"}`, "none"},
		{
			"named tool",
			`{"type":"tool","name":"get_weather"}`,
			openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: "get_weather"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, strings.ReplaceAll(base, "%s", tt.choice))
			out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			if got, want := out.ToolChoice, tt.want; got != want {
				t.Errorf("tool choice = %#v, want %#v", got, want)
			}
		})
	}

	t.Run("tool without name fails", func(t *testing.T) {
		req := decodeRequest(t, strings.ReplaceAll(base, "%s", `{"type":"tool"}`))
		if _, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig()); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("absent stays unset", func(t *testing.T) {
		req := decodeRequest(t, `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}]}`)
		out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		if out.ToolChoice != nil {
			t.Errorf("tool choice = %#v, want nil", out.ToolChoice)
		}
	})
}

func TestConvertGenerationParameters(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100000,
		"stop_sequences": ["END", "STOP"],
		"temperature": 0.5,
		"top_p": 0.9,
		"stream": true,
		"messages": [{"role":"user","content":"hi"}]
	}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d, want clamped 4096", out.MaxTokens)
	}
	if len(out.Stop) != 2 || out.Stop[0] != "END" {
		t.Errorf("stop sequences = %v", out.Stop)
	}
	if out.Temperature != 0.5 || out.TopP != 0.9 {
		t.Errorf("sampling params = %v / %v", out.Temperature, out.TopP)
	}
	if !out.Stream {
		t.Error("stream flag lost")
	}
	if out.StreamOptions == nil || !out.StreamOptions.IncludeUsage {
		t.Error("streaming requests must ask for usage reporting")
	}
}

func TestConvertMaxTokensFloor(t *testing.T) {
	req := decodeRequest(t, `{"model":"m","max_tokens":0,"messages":[{"role":"user","content":"x"}]}`)
	out, err := ConvertClaudeToOpenAI(req, testMapper(), testConfig())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.MaxTokens != 100 {
		t.Errorf("max_tokens = %d, want the configured floor 100", out.MaxTokens)
	}
	if out.StreamOptions != nil {
		t.Error("non-streaming request should not set stream options")
	}
}

func TestFlattenToolResultContent(t *testing.T) {
	toBlocks := func(raw string) *models.ClaudeToolContent {
		var c models.ClaudeToolContent
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("fixture: %v", err)
		}
		return &c
	}
	tests := []struct {
		name string
		in   *models.ClaudeToolContent
		want string
	}{
		{"nil", nil, "No content provided"},
		{"empty", toBlocks(`[]`), "No content provided"},
		{"string form", toBlocks(`"plain result"`), "plain result"},
		{"text blocks joined", toBlocks(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`), "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenToolResultContent(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
