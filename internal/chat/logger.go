package chat

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogger - builds structured logger writing in "text" or "json" format.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("chat.NewLogger: %w", err)
	}
	options := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("chat.NewLogger: unknown format %q", format)
	}
}
