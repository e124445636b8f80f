package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func newTestClient(t *testing.T, backendURL string) (*BackendClient, string) {
	t.Helper()
	ledger := filepath.Join(t.TempDir(), "usage.tsv")
	cfg := &Config{
		OpenAIAPIKey:   "sk-test",
		OpenAIBaseURL:  backendURL + "/v1",
		RequestTimeout: 5,
	}
	return NewBackendClient(cfg, NewUsageRecorder(ledger)), ledger
}

func readLedgerRows(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("ledger has no rows: %q", string(data))
	}
	return lines[1:]
}

func TestBackendClientBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15,"prompt_tokens_details":{"cached_tokens":4}}}`)
	}))
	defer srv.Close()

	client, ledger := newTestClient(t, srv.URL)
	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hello"}},
	}, "req-buffered")
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("unexpected content %q", resp.Choices[0].Message.Content)
	}

	rows := readLedgerRows(t, ledger)
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	for _, want := range []string{"req-buffered", "false", "gpt-4o", "success", "\t12\t3\t4\t15\t"} {
		if !strings.Contains(rows[0], want) {
			t.Errorf("ledger row missing %q: %q", want, rows[0])
		}
	}
}

func TestBackendClientBufferedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate_limit reached for requests","type":"requests"}}`)
	}))
	defer srv.Close()

	client, ledger := newTestClient(t, srv.URL)
	_, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o"}, "req-429")
	if err == nil {
		t.Fatal("expected error")
	}
	var bridgeErr *BridgeError
	if !errors.As(err, &bridgeErr) {
		t.Fatalf("expected *BridgeError, got %T", err)
	}
	if bridgeErr.Status != 429 || bridgeErr.Kind != KindClient {
		t.Errorf("unexpected translation: %+v", bridgeErr)
	}

	rows := readLedgerRows(t, ledger)
	if !strings.Contains(rows[0], "error\tratelimit:") {
		t.Errorf("ledger row missing ratelimit label: %q", rows[0])
	}
}

func TestBackendClientStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["stream"] != true {
			t.Error("stream flag not forced on")
		}
		opts, _ := req["stream_options"].(map[string]any)
		if opts["include_usage"] != true {
			t.Error("include_usage not forced on")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":6,"completion_tokens":2,"total_tokens":8}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, ledger := newTestClient(t, srv.URL)
	stream, err := client.CreateChatCompletionStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hello"}},
	}, "req-stream")
	if err != nil {
		t.Fatalf("CreateChatCompletionStream: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if text.String() != "Hello" {
		t.Errorf("accumulated text %q, want %q", text.String(), "Hello")
	}

	rows := readLedgerRows(t, ledger)
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	for _, want := range []string{"req-stream", "true", "success", "\t6\t2\t0\t8\t"} {
		if !strings.Contains(rows[0], want) {
			t.Errorf("ledger row missing %q: %q", want, rows[0])
		}
	}
}

func TestBackendClientStreamAbandoned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
	}))
	defer srv.Close()

	client, ledger := newTestClient(t, srv.URL)
	stream, err := client.CreateChatCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o"}, "req-gone")
	if err != nil {
		t.Fatalf("CreateChatCompletionStream: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	stream.Close()

	rows := readLedgerRows(t, ledger)
	if !strings.Contains(rows[0], "error\tcancelled:") {
		t.Errorf("ledger row missing cancelled label: %q", rows[0])
	}
}

func TestNewBackendClientAzure(t *testing.T) {
	cfg := &Config{
		OpenAIAPIKey:    "azure-key",
		OpenAIBaseURL:   "https://example.openai.azure.com",
		AzureAPIVersion: "2024-02-01",
	}
	client := NewBackendClient(cfg, nil)
	if client.apiType != APITypeAzure {
		t.Errorf("apiType = %q, want azure", client.apiType)
	}

	std := NewBackendClient(&Config{OpenAIAPIKey: "sk-x", OpenAIBaseURL: "https://api.openai.com/v1"}, nil)
	if std.apiType != APITypeOpenAI {
		t.Errorf("apiType = %q, want openai", std.apiType)
	}
}
