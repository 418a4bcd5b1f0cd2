// Package logging builds the process-wide slog logger from LogConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Robinemad1/EEETrading/internal/config"
)

// New returns a logger and a closer for its output. The closer is a no-op
// unless logs go to a rotating file.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	isTerminal := isatty.IsTerminal(os.Stderr.Fd())

	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = rotating
		closer = rotating
		isTerminal = false
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "", "auto":
		if isTerminal {
			handler = slog.NewTextHandler(out, opts)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	return slog.New(handler), closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
