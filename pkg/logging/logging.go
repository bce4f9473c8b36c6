// Package logging provides structured logging for the engine's
// components, built on log/slog with an optional file destination
// alongside stderr.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger.
type Config struct {
	// Level sets the minimum log level. The zero value is LevelDebug;
	// Default() uses LevelInfo.
	Level Level

	// LogDir, if set, enables file logging in addition to stderr. The file
	// is named "{Service}_{YYYY-MM-DD}.log" and is always JSON. Supports a
	// leading "~" for home-directory expansion.
	LogDir string

	// Service identifies the component generating logs; included as the
	// "service" attribute on every entry.
	Service string

	// JSON enables JSON-formatted stderr output. File output is always
	// JSON regardless of this setting.
	JSON bool
}

// Logger wraps slog.Logger with an optional second destination (a log
// file) and a Close method that releases it.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New builds a Logger per config.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var stderrHandler slog.Handler
	if config.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	l := &Logger{}
	handler := stderrHandler

	if config.LogDir != "" {
		if f, err := openLogFile(config.LogDir, config.Service); err == nil {
			l.file = f
			fileHandler := slog.NewJSONHandler(f, opts)
			handler = &fanoutHandler{handlers: []slog.Handler{stderrHandler, fileHandler}}
		} else {
			slog.Warn("logging: failed to open log file, falling back to stderr only", "err", err, "dir", config.LogDir)
		}
	}

	l.slog = slog.New(handler)
	if config.Service != "" {
		l.slog = l.slog.With("service", config.Service)
	}
	return l
}

// Default returns a Logger with production defaults: info level, JSON to
// stderr, no file output.
func Default() *Logger {
	return New(Config{Level: LevelInfo, JSON: true})
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger that includes args on every subsequent entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying *slog.Logger, for collaborators (gin
// middleware, third-party libraries) that want a plain slog interface.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close releases the log file, if one was opened. Safe to call once; safe
// to call on a Logger with no file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "engine"
	}
	name := service + "_" + time.Now().Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// fanoutHandler forwards every record to each wrapped handler, so logs
// reach stderr and a file simultaneously.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
