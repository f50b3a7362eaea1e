package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// LevelTrace is below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// NewLogger builds the process logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, ok := parseLevel(cfg.Level)
	if !ok {
		return nil, fmt.Errorf("%w: log level %q", berr.ErrInvalidConfig, cfg.Level)
	}

	if level == nil {
		return slog.New(slog.DiscardHandler), nil
	}

	opts := &slog.HandlerOptions{Level: *level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", berr.ErrInvalidConfig, cfg.Format)
	}
}

// parseLevel maps a level name to its slog level. A nil level disables logging.
func parseLevel(raw string) (*slog.Level, bool) {
	lvl := func(l slog.Level) (*slog.Level, bool) { return &l, true }

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return lvl(slog.LevelInfo)
	case "trace":
		return lvl(LevelTrace)
	case "debug":
		return lvl(slog.LevelDebug)
	case "warn", "warning":
		return lvl(slog.LevelWarn)
	case "error":
		return lvl(slog.LevelError)
	case "off", "disabled", "none":
		return nil, true
	default:
		return nil, false
	}
}
