// Package logging manages the process logger: a bootstrap text handler on
// stderr that is swapped, once config is loaded, for a fanout of stderr text
// plus rotated JSON. Loggers handed out before the swap stay valid.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLevel applies when no level is configured.
const DefaultLevel = slog.LevelInfo

// ParseLevel maps "debug", "info", "warn", "error" (any case) to a level.
// Unrecognized input returns (DefaultLevel, false).
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return DefaultLevel, false
	}
}

// swapHandler is a slog.Handler whose target can be replaced atomically,
// so the upgrade never invalidates loggers already in use.
type swapHandler struct {
	target atomic.Pointer[slog.Handler]
}

func newSwapHandler(initial slog.Handler) *swapHandler {
	h := &swapHandler{}
	h.target.Store(&initial)
	return h
}

func (h *swapHandler) swap(next slog.Handler) { h.target.Store(&next) }
func (h *swapHandler) current() slog.Handler  { return *h.target.Load() }

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.current().Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return newSwapHandler(h.current().WithAttrs(attrs))
}

func (h *swapHandler) WithGroup(name string) slog.Handler {
	return newSwapHandler(h.current().WithGroup(name))
}

// Manager owns the handler swap and the file sink lifecycle. Components take
// a logger from Logger() once; it stays valid across Upgrade.
type Manager struct {
	handler *swapHandler
	logger  *slog.Logger
	sink    *lumberjack.Logger
	level   *slog.LevelVar
	mu      sync.Mutex
}

// NewManager starts in bootstrap mode: text to stderr only. Call Upgrade
// once config is available.
func NewManager() *Manager {
	level := new(slog.LevelVar)
	level.Set(DefaultLevel)

	opts := &slog.HandlerOptions{Level: level}
	handler := newSwapHandler(slog.NewTextHandler(os.Stderr, opts))
	return &Manager{
		handler: handler,
		logger:  slog.New(handler),
		level:   level,
	}
}

// Logger returns the process logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Upgrade switches to full mode: text to stderr plus rotated JSON to
// logFilePath. The file sink rotates at 50MB and keeps five compressed
// backups.
func (m *Manager) Upgrade(logFilePath string, level slog.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sink != nil {
		_ = m.sink.Close()
	}
	m.sink = &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    50, // MB
		MaxBackups: 5,
		Compress:   true,
	}

	m.level.Set(level)
	opts := &slog.HandlerOptions{Level: m.level}

	m.handler.swap(slogmulti.Fanout(
		slog.NewTextHandler(os.Stderr, opts),
		slog.NewJSONHandler(m.sink, opts),
	))

	return nil
}

// SetLevel changes the log level at runtime.
func (m *Manager) SetLevel(level slog.Level) {
	m.level.Set(level)
}

// Close closes the file sink if one is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sink != nil {
		err := m.sink.Close()
		m.sink = nil
		return err
	}
	return nil
}
