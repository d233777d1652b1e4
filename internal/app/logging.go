package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
)

// setupLogger installs the process-wide structured logger.
func setupLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("invalid log level %q", level), err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("invalid log format %q", format))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
