package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DebugForcesDebugLevel(t *testing.T) {
	t.Setenv("FIM_DEBUG", "1")
	t.Setenv("LOG_LEVEL", "")

	cfg := NewConfig()
	assert.True(t, cfg.Debug)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor(SubsystemLayer))
}

func TestNewConfig_SubsystemOverride(t *testing.T) {
	t.Setenv("FIM_DEBUG", "")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL_PAYLOAD", "debug")

	cfg := NewConfig()
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor(SubsystemLayer))
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor(SubsystemPayload))
}

// A non-terminal writer gets JSON records carrying the subsystem attr.
func TestNew_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, SubsystemOverlay, Config{DefaultLevel: slog.LevelInfo})
	log.Info("mounted", "dir", "/m/overlayfs")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "OVERLAY", record["subsystem"])
	assert.Equal(t, "mounted", record["msg"])
}
