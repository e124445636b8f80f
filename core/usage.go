package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tsvColumns fixes the column order of the usage ledger.
var tsvColumns = []string{
	"timestamp",
	"request_id",
	"is_stream",
	"model",
	"base_url",
	"api_type",
	"input_tokens",
	"output_tokens",
	"cache_read_input_tokens",
	"total_tokens",
	"latency_ms",
	"status",
	"error",
}

// Usage ledger status values.
const (
	UsageStatusSuccess = "success"
	UsageStatusError   = "error"
)

// UsageRecord is one row of the usage ledger.
type UsageRecord struct {
	Timestamp            time.Time
	RequestID            string
	IsStream             bool
	Model                string
	BaseURL              string
	APIType              string
	InputTokens          int
	OutputTokens         int
	CacheReadInputTokens int
	TotalTokens          int
	LatencyMS            int64
	Status               string
	Error                string
}

// UsageRecorder appends token accounting rows to a TSV file. Appends are
// serialized by a mutex; the header is written when the file is first
// created. Recording failures are logged and never fail the request.
type UsageRecorder struct {
	path string
	mu   sync.Mutex
}

// NewUsageRecorder creates a recorder writing to path. An empty path
// disables recording.
func NewUsageRecorder(path string) *UsageRecorder {
	return &UsageRecorder{path: path}
}

// Append writes one row to the ledger.
func (r *UsageRecorder) Append(rec UsageRecord) {
	if r == nil || r.path == "" {
		return
	}

	line := r.formatLine(rec)

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("usage ledger directory creation failed", "path", r.path, "error", err)
			return
		}
	}

	_, statErr := os.Stat(r.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("usage ledger open failed", "path", r.path, "error", err)
		return
	}
	defer f.Close()

	if writeHeader {
		if _, err := f.WriteString(strings.Join(tsvColumns, "\t") + "\n"); err != nil {
			slog.Error("usage ledger header write failed", "path", r.path, "error", err)
			return
		}
	}
	if _, err := f.WriteString(line); err != nil {
		slog.Error("usage ledger write failed", "path", r.path, "error", err)
	}
}

func (r *UsageRecorder) formatLine(rec UsageRecord) string {
	values := []string{
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.RequestID,
		strconv.FormatBool(rec.IsStream),
		rec.Model,
		rec.BaseURL,
		rec.APIType,
		strconv.Itoa(rec.InputTokens),
		strconv.Itoa(rec.OutputTokens),
		strconv.Itoa(rec.CacheReadInputTokens),
		strconv.Itoa(rec.TotalTokens),
		strconv.FormatInt(rec.LatencyMS, 10),
		rec.Status,
		rec.Error,
	}
	for i, v := range values {
		values[i] = sanitizeTSV(v)
	}
	return strings.Join(values, "\t") + "\n"
}

// sanitizeTSV keeps embedded tabs and newlines from breaking row structure.
func sanitizeTSV(value string) string {
	value = strings.ReplaceAll(value, "\t", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "\r", " ")
}

// usageErrorLabel prefixes a ledger error message with its failure class,
// mirroring the auth/ratelimit/badrequest/api buckets of the log format.
func usageErrorLabel(err *BridgeError) string {
	if err == nil {
		return ""
	}
	var prefix string
	switch {
	case err.Kind == KindCancelled:
		prefix = "cancelled"
	case err.Status == 401:
		prefix = "auth"
	case err.Status == 429:
		prefix = "ratelimit"
	case err.Status == 400:
		prefix = "badrequest"
	case err.Status >= 400:
		prefix = "api"
	default:
		prefix = "unexpected"
	}
	return fmt.Sprintf("%s:%s", prefix, err.Message)
}
