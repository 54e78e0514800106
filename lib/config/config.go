// Package config resolves the immutable configuration record that every
// other component depends on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

// Default tunables.
const (
	DefaultCompressionLevel = 15
	DefaultSlackMinimumMiB  = 20
)

// Config is the immutable record of resolved paths, flags, and tunables.
// It is created once per process and never mutated after Resolve returns.
type Config struct {
	// Required inputs.
	Offset      int64
	DirGlobal   string
	FileBinary  string
	DirApp      string
	DirAppBin   string
	DirInstance string
	DirMount    string
	Home        string
	Path        string

	// Optional flags (value "1" enables).
	Root     bool
	RO       bool
	Debug    bool
	Casefold bool

	// Optional tunables.
	CompressionLevel int
	SlackMinimumMiB  int64

	// Derived outputs, exported back into the environment for the
	// janitor and the contained application.
	Pid            int
	PidParent      int
	DirRuntime     string
	DirRuntimeHost string
	DirConfig      string
	Dist           string
	SearchPath     string // merged PATH, with helper-binary directories prepended
}

// getenv abstracts environment lookup so tests can resolve against a fake
// environment without mutating process state.
type getenv func(string) string

// Resolve builds the Config record from the environment, creating the
// per-user config directory if missing. A .env file in the binary's own
// directory is loaded first, non-fatal if absent, so tunables can be
// overridden locally.
func Resolve() (*Config, error) {
	if exe, err := os.Executable(); err == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exe), ".env"))
	}
	return resolveFrom(os.Getenv)
}

func resolveFrom(get getenv) (*Config, error) {
	offsetStr := get("FIM_OFFSET")
	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: FIM_OFFSET: %v", ErrEnvironment, err)
	}

	cfg := &Config{
		Offset:      offset,
		DirGlobal:   get("FIM_DIR_GLOBAL"),
		FileBinary:  get("FIM_FILE_BINARY"),
		DirApp:      get("FIM_DIR_APP"),
		DirAppBin:   get("FIM_DIR_APP_BIN"),
		DirInstance: get("FIM_DIR_INSTANCE"),
		DirMount:    get("FIM_DIR_MOUNT"),
		Home:        get("HOME"),
		Path:        get("PATH"),

		Root:     get("FIM_ROOT") == "1",
		RO:       get("FIM_RO") == "1",
		Debug:    get("FIM_DEBUG") == "1",
		Casefold: get("FIM_CASEFOLD") == "1",

		CompressionLevel: getInt(get, "FIM_COMPRESSION_LEVEL", DefaultCompressionLevel),
		SlackMinimumMiB:  getInt64(get, "FIM_SLACK_MINIMUM", DefaultSlackMinimumMiB),
	}

	for name, val := range map[string]string{
		"FIM_DIR_GLOBAL":   cfg.DirGlobal,
		"FIM_FILE_BINARY":  cfg.FileBinary,
		"FIM_DIR_APP":      cfg.DirApp,
		"FIM_DIR_APP_BIN":  cfg.DirAppBin,
		"FIM_DIR_INSTANCE": cfg.DirInstance,
		"FIM_DIR_MOUNT":    cfg.DirMount,
		"HOME":             cfg.Home,
	} {
		if val == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrEnvironment, name)
		}
	}

	cfg.Pid = os.Getpid()
	cfg.PidParent = os.Getppid()
	cfg.DirRuntime = cfg.DirMount
	cfg.DirRuntimeHost = cfg.DirMount
	cfg.Dist = filepath.Base(cfg.FileBinary)
	cfg.DirConfig = filepath.Join(cfg.Home, ".config", cfg.Dist)

	if err := os.MkdirAll(cfg.DirConfig, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory %s: %w", cfg.DirConfig, err)
	}

	cfg.SearchPath = strings.Join([]string{cfg.DirAppBin, cfg.Path}, string(os.PathListSeparator))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field invariants not expressible by simple parsing.
func (c *Config) Validate() error {
	if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
		return fmt.Errorf("%w: FIM_COMPRESSION_LEVEL must be in [1,22], got %d", ErrEnvironment, c.CompressionLevel)
	}
	if c.SlackMinimumMiB < 0 {
		return fmt.Errorf("%w: FIM_SLACK_MINIMUM must be >= 0, got %d", ErrEnvironment, c.SlackMinimumMiB)
	}
	return nil
}

// SlackMinimumBytes returns the slack-minimum tunable in bytes.
func (c *Config) SlackMinimumBytes() int64 {
	return c.SlackMinimumMiB * int64(datasize.MB)
}

// Export writes the derived output variables into the process environment
// (PID, FIM_PID, PID_PARENT, FIM_DIR_RUNTIME, FIM_DIR_RUNTIME_HOST,
// FIM_DIR_CONFIG, FIM_DIST, updated PATH, updated LD_LIBRARY_PATH), for
// consumption by the janitor and the contained application's own process.
func (c *Config) Export() error {
	outputs := map[string]string{
		"PID":                  strconv.Itoa(c.Pid),
		"FIM_PID":              strconv.Itoa(c.Pid),
		"PID_PARENT":           strconv.Itoa(c.PidParent),
		"FIM_DIR_RUNTIME":      c.DirRuntime,
		"FIM_DIR_RUNTIME_HOST": c.DirRuntimeHost,
		"FIM_DIR_CONFIG":       c.DirConfig,
		"FIM_DIST":             c.Dist,
		"PATH":                 c.SearchPath,
		"LD_LIBRARY_PATH":      prependLibDirs(os.Getenv("LD_LIBRARY_PATH")),
	}
	for k, v := range outputs {
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// prependLibDirs prepends the common multiarch library directories used by
// extracted FUSE helper binaries ahead of whatever LD_LIBRARY_PATH already
// carries.
func prependLibDirs(existing string) string {
	libDirs := []string{
		"/usr/lib/x86_64-linux-gnu",
		"/usr/lib/aarch64-linux-gnu",
		"/usr/lib64",
		"/usr/lib",
	}
	if existing == "" {
		return strings.Join(libDirs, string(os.PathListSeparator))
	}
	return strings.Join(libDirs, string(os.PathListSeparator)) + string(os.PathListSeparator) + existing
}

func getInt(get getenv, key string, def int) int {
	if v := get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(get getenv, key string, def int64) int64 {
	if v := get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
