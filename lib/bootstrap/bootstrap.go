// Package bootstrap implements the first-run stage: extracting the
// helper executables embedded in the host binary's framed tail into a
// per-user cache, then re-executing the resident launcher with an
// environment describing paths and the Layer region's starting offset.
//
// Bootstrap is the single authoritative producer of FIM_OFFSET: it alone
// reads the trailer, extracts helper frames, and derives the offset from
// where those frames end. The configuration resolver (lib/config) only
// ever consumes FIM_OFFSET from the environment, never recomputes it.
package bootstrap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/flatimage/fim/lib/payload"
	"github.com/flatimage/fim/lib/paths"
	"golang.org/x/sync/errgroup"
)

// BootstrappedMarker is the environment variable whose presence means
// bootstrap has already run for this invocation chain.
const BootstrappedMarker = "FIM_BOOTSTRAPPED"

// HelperManifest is the fixed, ordered set of executables embedded
// ahead of the Layer region in the host binary's framed tail. Each
// manifest entry corresponds to exactly one frame, read in this order.
var HelperManifest = []string{"dwarfs", "ciopfs", "overlayfs", "fusermount", "janitor"}

// trailerSize is the width of the little-endian offset word appended as
// the final 8 bytes of the host binary, pointing at the start of the
// helper-executable frames: the same self-extracting-archive footer
// trick used by shell/makeself-style installers, adapted to a fixed-
// width binary trailer instead of a shell marker line.
const trailerSize = 8

// IsBootstrapped reports whether this invocation chain has already run
// the first-run extraction stage.
func IsBootstrapped() bool {
	return os.Getenv(BootstrappedMarker) == "1"
}

// Run performs first-run extraction and re-executes into the resident
// launcher with argv unchanged. It only returns on error: success ends
// in syscall.Exec, which replaces this process image entirely.
func Run(argv []string) error {
	self, err := selfPath()
	if err != nil {
		return fmt.Errorf("resolve self: %w", err)
	}

	cacheRoot := CacheRoot(filepath.Base(self))
	p := paths.New(cacheRoot, "", "")
	binDir := p.CacheBinDir()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", binDir, err)
	}
	if err := os.MkdirAll(p.CacheMountsDir(), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", p.CacheMountsDir(), err)
	}

	trailerOffset, err := readTrailerOffset(self)
	if err != nil {
		return fmt.Errorf("read trailer offset: %w", err)
	}

	frames, err := payload.ReadFrames(self, trailerOffset, nil)
	if err != nil {
		return fmt.Errorf("enumerate helper frames: %w", err)
	}
	if len(frames) < len(HelperManifest) {
		return fmt.Errorf("expected %d embedded helper binaries, found %d", len(HelperManifest), len(frames))
	}

	if err := extractHelpers(self, binDir, frames); err != nil {
		return fmt.Errorf("extract helpers: %w", err)
	}

	last := frames[len(HelperManifest)-1]
	fimOffset := last.Offset + last.Length

	env := buildEnv(os.Environ(), fimOffset, binDir)
	if err := syscall.Exec(self, argv, env); err != nil {
		return fmt.Errorf("exec resident launcher: %w", err)
	}
	return nil
}

// extractHelpers writes each manifest binary to binDir, skipping ones
// already present, concurrently and bounded since each write targets an
// independent cache path.
func extractHelpers(self, binDir string, frames []payload.Frame) error {
	g := new(errgroup.Group)
	g.SetLimit(4)

	for i, name := range HelperManifest {
		i, name := i, name
		g.Go(func() error {
			dest := filepath.Join(binDir, name)
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
			return extractFrame(self, dest, frames[i])
		})
	}
	return g.Wait()
}

// extractFrame copies exactly frame.Length bytes starting at
// frame.Offset from src into dest, marking dest executable.
func extractFrame(src, dest string, frame payload.Frame) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := in.Seek(frame.Offset, 0); err != nil {
		return fmt.Errorf("seek %s: %w", src, err)
	}
	if _, err := io.CopyN(out, in, frame.Length); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return out.Chmod(0o755)
}

// buildEnv overlays the bootstrapped marker, the derived FIM_OFFSET, and
// a PATH with binDir prepended onto the existing environment, without
// mutating the caller's slice.
func buildEnv(base []string, fimOffset int64, binDir string) []string {
	out := make([]string, 0, len(base)+2)
	seenPath := false
	for _, kv := range base {
		switch {
		case hasPrefix(kv, "PATH="):
			out = append(out, "PATH="+binDir+string(os.PathListSeparator)+kv[len("PATH="):])
			seenPath = true
		case hasPrefix(kv, BootstrappedMarker+"="), hasPrefix(kv, "FIM_OFFSET="):
			// dropped; re-added below with authoritative values
		default:
			out = append(out, kv)
		}
	}
	if !seenPath {
		out = append(out, "PATH="+binDir)
	}
	out = append(out, BootstrappedMarker+"=1", "FIM_OFFSET="+strconv.FormatInt(fimOffset, 10))
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// readTrailerOffset reads the final 8 little-endian bytes of path: the
// absolute offset at which the helper-executable frames begin.
func readTrailerOffset(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < trailerSize {
		return 0, fmt.Errorf("%s too small to carry a trailer", path)
	}

	buf := make([]byte, trailerSize)
	if _, err := f.ReadAt(buf, info.Size()-trailerSize); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// selfPath resolves /proc/self/exe to its canonical absolute path.
func selfPath() (string, error) {
	return os.Readlink("/proc/self/exe")
}

// CacheRoot determines the per-user cache root: XDG_CACHE_HOME, else
// HOME/.cache/<name>, else a system-wide fallback shared across users.
func CacheRoot(name string) string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, name)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".cache", name)
	}
	return filepath.Join("/var/cache", name)
}
