package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", DefaultLevel, false},
		{"", DefaultLevel, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
	}
}

func TestManagerUpgradeWritesFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	m := NewManager()
	logger := m.Logger()

	require.NoError(t, m.Upgrade(logPath, slog.LevelDebug))
	logger.Debug("after upgrade", "k", "v")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after upgrade")
}

func TestManagerLoggerStableAcrossUpgrade(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	before := m.Logger()

	require.NoError(t, m.Upgrade(filepath.Join(dir, "a.log"), slog.LevelInfo))
	assert.Same(t, before, m.Logger())
	require.NoError(t, m.Close())
}

func TestSwapHandlerRoutesToNewTarget(t *testing.T) {
	var records []slog.Record
	capture := capturingHandler{records: &records}

	sh := newSwapHandler(slog.NewTextHandler(os.Stderr, nil))
	sh.swap(capture)

	logger := slog.New(sh)
	logger.Info("routed to new handler")

	require.Len(t, records, 1)
	assert.Equal(t, "routed to new handler", records[0].Message)
}

type capturingHandler struct {
	records *[]slog.Record
}

func (h capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h capturingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h capturingHandler) WithGroup(string) slog.Handler      { return h }
