package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. dev enables debug level; format "text"
// switches from JSON to the human-readable handler.
func New(env, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, env, format)
}

func NewWithWriter(w io.Writer, env, format string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "inventory-ledger")
}
