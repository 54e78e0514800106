package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPath_FindsExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "true-ish")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	found, err := SearchPath("true-ish", dir)
	require.NoError(t, err)
	assert.Equal(t, bin, found)
}

func TestSearchPath_NotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := SearchPath("does-not-exist", dir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSpawnAndWait_ExitCode(t *testing.T) {
	h, err := New("/bin/sh", Piped, "-c", "exit 7").Spawn()
	require.NoError(t, err)

	code, err := h.Wait(nil)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 7, *code)
}

func TestSpawnAndWait_CapturedOutput(t *testing.T) {
	h, err := New("/bin/sh", Captured, "-c", "echo hello").Spawn()
	require.NoError(t, err)

	code, err := h.Wait(nil)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Contains(t, h.Output(), "hello")
}

func TestWaitShort_TimesOutThenLaterWaitSucceeds(t *testing.T) {
	h, err := New("/bin/sh", Piped, "-c", "sleep 0.3").Spawn()
	require.NoError(t, err)

	_, err = h.WaitShort(10 * time.Millisecond)
	assert.Error(t, err)

	code, err := h.Wait(nil)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
}
