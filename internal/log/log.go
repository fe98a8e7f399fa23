// Package log provides the logging infrastructure shared by all quarry
// components.
//
// Loggers are injected, never global: each component receives a *slog.Logger
// through its constructor and may add context via logger.With(). The pipeline
// packages (ingest, engine, store) log per-file and per-batch progress at
// Debug/Info and recoverable skips (parse failures) at Warn.
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	engine := engine.New(..., logger.With("component", "engine"))
//
// In tests, use log.NewNop() or capture output with log.NewWithWriter.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries. Default: false
	AddSource bool
}

// New creates a new logger with the given configuration.
// Output is written to os.Stderr.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a new logger that writes to the specified writer.
// Useful for testing or custom output destinations.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test use only; production
// code should always use New or NewWithWriter so failures stay observable.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
