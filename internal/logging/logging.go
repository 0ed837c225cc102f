package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also writes records to stderr.
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a logger from cfg and returns it with a cleanup function
// that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg Config, stderr *os.File) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	cleanup := func() {}

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(writer, opts))
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	if cfg.WriteToStderr && stderr != nil {
		handlers = append(handlers, consoleHandler(stderr, opts))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, opts)), cleanup, nil
	case 1:
		return slog.New(handlers[0]), cleanup, nil
	default:
		return slog.New(teeHandler(handlers)), cleanup, nil
	}
}

// consoleHandler picks text output for interactive terminals, JSON otherwise.
func consoleHandler(f *os.File, opts *slog.HandlerOptions) slog.Handler {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.NewTextHandler(f, opts)
	}
	return slog.NewJSONHandler(f, opts)
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}

// teeHandler fans every record out to all handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
