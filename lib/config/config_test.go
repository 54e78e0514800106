package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(overrides map[string]string) getenv {
	base := map[string]string{
		"FIM_OFFSET":       "4096",
		"FIM_DIR_GLOBAL":   "/tmp/fim/global",
		"FIM_FILE_BINARY":  "/tmp/fim/app.flatimage",
		"FIM_DIR_APP":      "/tmp/fim/app",
		"FIM_DIR_APP_BIN":  "/tmp/fim/app/bin",
		"FIM_DIR_INSTANCE": "/tmp/fim/instances/abc",
		"FIM_DIR_MOUNT":    "/tmp/fim/mount",
		"PATH":             "/usr/bin:/bin",
	}
	for k, v := range overrides {
		base[k] = v
	}
	return func(key string) string { return base[key] }
}

func TestResolve_RequiredAndDerived(t *testing.T) {
	home := t.TempDir()
	cfg, err := resolveFrom(fakeEnv(map[string]string{"HOME": home}))
	require.NoError(t, err)

	assert.Equal(t, int64(4096), cfg.Offset)
	assert.Equal(t, "app.flatimage", cfg.Dist)
	assert.Equal(t, filepath.Join(home, ".config", "app.flatimage"), cfg.DirConfig)
	assert.DirExists(t, cfg.DirConfig)
	assert.Equal(t, os.Getpid(), cfg.Pid)

	// Helper-binary directory is prepended to the merged search path.
	assert.True(t, strings.HasPrefix(cfg.SearchPath, "/tmp/fim/app/bin"))
	assert.Contains(t, cfg.SearchPath, "/usr/bin:/bin")
}

func TestResolve_MissingOffset(t *testing.T) {
	_, err := resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir(), "FIM_OFFSET": ""}))
	assert.ErrorIs(t, err, ErrEnvironment)
}

func TestResolve_MissingRequiredVariable(t *testing.T) {
	_, err := resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir(), "FIM_DIR_MOUNT": ""}))
	require.ErrorIs(t, err, ErrEnvironment)
	assert.Contains(t, err.Error(), "FIM_DIR_MOUNT")
}

func TestResolve_FlagsAndTunableDefaults(t *testing.T) {
	cfg, err := resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir()}))
	require.NoError(t, err)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Casefold)
	assert.Equal(t, DefaultCompressionLevel, cfg.CompressionLevel)
	assert.Equal(t, int64(DefaultSlackMinimumMiB), cfg.SlackMinimumMiB)

	cfg, err = resolveFrom(fakeEnv(map[string]string{
		"HOME":                  t.TempDir(),
		"FIM_DEBUG":             "1",
		"FIM_CASEFOLD":          "1",
		"FIM_COMPRESSION_LEVEL": "9",
		"FIM_SLACK_MINIMUM":     "100",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Casefold)
	assert.Equal(t, 9, cfg.CompressionLevel)
	assert.Equal(t, int64(100), cfg.SlackMinimumMiB)
}

func TestValidate_CompressionLevelBounds(t *testing.T) {
	_, err := resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir(), "FIM_COMPRESSION_LEVEL": "23"}))
	assert.ErrorIs(t, err, ErrEnvironment)

	_, err = resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir(), "FIM_COMPRESSION_LEVEL": "0"}))
	assert.ErrorIs(t, err, ErrEnvironment)
}

func TestCheckSlack(t *testing.T) {
	cfg, err := resolveFrom(fakeEnv(map[string]string{"HOME": t.TempDir()}))
	require.NoError(t, err)

	cfg.SlackMinimumMiB = 0
	diagnostic, err := cfg.CheckSlack(t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, diagnostic, "free")

	// No filesystem has an exbibyte free.
	cfg.SlackMinimumMiB = 1 << 40
	_, err = cfg.CheckSlack(t.TempDir())
	assert.ErrorIs(t, err, ErrInsufficientSlack)
}
