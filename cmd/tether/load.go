package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/vango-dev/tether/internal/config"
	"github.com/vango-dev/tether/internal/errors"
)

// loadConfig reads the --config source, or defaults when none is given,
// and applies the logging flags.
func loadConfig(ctx context.Context, flags *globalFlags) (*config.Config, error) {
	cfg := config.New()
	if flags.configPath != "" {
		loaded, err := config.LoadURI(ctx, flags.configPath, nil)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, errors.New("T200").WithDetail("Unknown log level " + cfg.Level + ".").
			WithSuggestion("Use debug, info, warn or error.")
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.New("T200").WithDetail("Unknown log format " + cfg.Format + ".").
			WithSuggestion("Use text or json.")
	}
}
