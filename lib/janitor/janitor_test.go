package janitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestFork_SetsParentPidAndRedirectsOutput(t *testing.T) {
	dir := t.TempDir()
	stdout := filepath.Join(dir, "stdout.log")
	stderr := filepath.Join(dir, "stderr.log")

	sup, err := Fork("/bin/sh", stdout, stderr, []string{"-c", "echo from-janitor"}, testLogger())
	require.NoError(t, err)

	sup.WaitTimeout(2 * time.Second)

	assert.Equal(t, strconv.Itoa(os.Getpid()), os.Getenv("PID_PARENT"))

	out, err := os.ReadFile(stdout)
	require.NoError(t, err)
	assert.Contains(t, string(out), "from-janitor")
}

func TestSignal_DeliversToChild(t *testing.T) {
	dir := t.TempDir()
	stdout := filepath.Join(dir, "stdout.log")
	stderr := filepath.Join(dir, "stderr.log")

	sup, err := Fork("/bin/sh", stdout, stderr, []string{"-c", "sleep 5"}, testLogger())
	require.NoError(t, err)

	require.NoError(t, sup.Signal(syscall.SIGTERM))
	sup.WaitTimeout(2 * time.Second)
}
