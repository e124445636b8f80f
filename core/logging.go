package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the process-wide slog handler. Level accepts the
// usual slog names (debug, info, warn, error) in any case; format is either
// text or json.
func SetupLogging(levelText, format string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return fmt.Errorf("unsupported log level %q: %w", levelText, err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("unsupported log format %q (expected: json, text)", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
