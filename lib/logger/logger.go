// Package logger provides structured logging with subsystem-specific levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names for per-subsystem logging configuration.
const (
	SubsystemBoot      = "BOOT"
	SubsystemConfig    = "CONFIG"
	SubsystemPayload   = "PAYLOAD"
	SubsystemLayer     = "LAYER"
	SubsystemCasefold  = "CASEFOLD"
	SubsystemOverlay   = "OVERLAY"
	SubsystemJanitor   = "JANITOR"
	SubsystemProcess   = "PROCESS"
	SubsystemBootstrap = "BOOTSTRAP"
)

var allSubsystems = []string{
	SubsystemBoot, SubsystemConfig, SubsystemPayload, SubsystemLayer,
	SubsystemCasefold, SubsystemOverlay, SubsystemJanitor, SubsystemProcess,
	SubsystemBootstrap,
}

// Config holds logging configuration.
type Config struct {
	// DefaultLevel is the default log level for all subsystems.
	DefaultLevel slog.Level
	// SubsystemLevels maps subsystem names to their specific log levels.
	// If a subsystem is not in this map, DefaultLevel is used.
	SubsystemLevels map[string]slog.Level
	// Debug mirrors FIM_DEBUG: forces every subsystem to debug level.
	Debug bool
}

// NewConfig creates a Config from environment variables.
// Reads LOG_LEVEL for the default level and LOG_LEVEL_<SUBSYSTEM> for
// per-subsystem overrides. FIM_DEBUG=1 forces debug level everywhere.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
	}

	if os.Getenv("FIM_DEBUG") == "1" {
		cfg.Debug = true
		cfg.DefaultLevel = slog.LevelDebug
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		cfg.DefaultLevel = parseLevel(levelStr)
	}

	for _, subsystem := range allSubsystems {
		if levelStr := os.Getenv("LOG_LEVEL_" + subsystem); levelStr != "" {
			cfg.SubsystemLevels[subsystem] = parseLevel(levelStr)
		}
	}

	return cfg
}

// parseLevel parses a log level string.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// LevelFor returns the log level for the given subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// New creates a subsystem logger writing to w. Diagnostics go to stderr in
// the resident launcher, since stdout is handed off to the contained
// application. Output is human-readable text on a terminal, JSON otherwise.
func New(w io.Writer, subsystem string, cfg Config) *slog.Logger {
	level := cfg.LevelFor(subsystem)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("subsystem", subsystem))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

// AddToContext adds a logger to the context.
func AddToContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
