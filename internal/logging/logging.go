package logging

import (
	"context"
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
	// FilePath is the path to an additional log file. Empty means stderr only.
	FilePath string
	// MaxSizeMB is the maximum file size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// ForceJSON forces the JSON handler on stderr even when it is a terminal.
	ForceJSON bool
}

// DefaultConfig returns the default logging configuration: Info level,
// stderr only.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// Setup initializes logging and returns the logger plus a cleanup function.
//
// Every record goes to stderr: stdout belongs exclusively to the JSON-RPC
// channel, so nothing in this process may ever log there. When stderr is a
// terminal (a developer running the binary by hand) a text handler is used;
// when it is a pipe (the spawning client) records are JSON. An optional
// rotating file receives a JSON copy of everything.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)
	cleanup := func() {}

	stderrHandler := newStderrHandler(cfg, level)

	if cfg.FilePath == "" {
		return slog.New(stderrHandler), cleanup, nil
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	fileHandler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	return slog.New(newTeeHandler(stderrHandler, fileHandler)), cleanup, nil
}

// SetupDefault sets up logging and installs it as the default logger.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

func newStderrHandler(cfg Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if !cfg.ForceJSON && isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}

// teeHandler fans records out to two handlers. slog has no built-in tee and
// an io.MultiWriter would force both sinks onto the same format.
type teeHandler struct {
	a, b slog.Handler
}

func newTeeHandler(a, b slog.Handler) slog.Handler {
	return &teeHandler{a: a, b: b}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.a.Enabled(ctx, level) || h.b.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if h.a.Enabled(ctx, r.Level) {
		firstErr = h.a.Handle(ctx, r.Clone())
	}
	if h.b.Enabled(ctx, r.Level) {
		if err := h.b.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{a: h.a.WithAttrs(attrs), b: h.b.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{a: h.a.WithGroup(name), b: h.b.WithGroup(name)}
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// LevelFromString converts a string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}

var _ io.Writer = (*RotatingWriter)(nil)
