// Package logging provides the process-wide structured logger.
//
// The package wraps log/slog and keeps a single logger that every subsystem
// retrieves through Logger or one of the With* helpers, so level and output
// are controlled from one place. Until Init is called, a text logger writing
// WARN and above to stderr is used, which keeps library use quiet.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
)

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means warn.
	Level string

	// Format is "json" or "text". Empty means text.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// Init replaces the global logger.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = slog.New(handler)
	return nil
}

// Logger returns the global logger, creating the default one on first use.
func Logger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return logger
}

// WithComponent returns a logger tagged with a subsystem name.
//
//	log := logging.WithComponent("pager")
//	log.Debug("page loaded", "page", n)
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}
