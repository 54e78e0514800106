// Package mount implements the three FUSE mount driver variants that share
// one construction/destruction contract: construction mounts, destruction
// unmounts. Variants are modeled as a tagged union of driver records:
// each constructor returns the same *Driver type, differing only in the
// helper invocation and Kind recorded inside it.
package mount

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/flatimage/fim/lib/process"
	"golang.org/x/sys/unix"
)

// Kind identifies which of the three mount variants a Driver wraps.
type Kind string

const (
	KindReadOnlyLayer Kind = "layer"
	KindCaseFold      Kind = "casefold"
	KindOverlay       Kind = "overlay"
)

// unmountRetries and unmountDelay implement the bounded retry discipline
// shared by every variant's destructor: busy targets are retried up to
// 10 times, 100ms apart, then logged and accepted.
const (
	unmountRetries = 10
	unmountDelay   = 100 * time.Millisecond
)

// ErrHelperFailed marks a helper that exited non-zero or on a signal
// during construction.
var ErrHelperFailed = fmt.Errorf("mount helper failed")

// Driver is one mounted filesystem: a long-lived helper process holding
// a kernel mount point. A Driver exists if and only if its helper process
// is alive and MountDir is an active mount.
type Driver struct {
	Kind     Kind
	MountDir string

	handle         *process.Handle
	fusermountPath string
	log            *slog.Logger
}

// construct is the shared mount-then-verify sequence used by all three
// variant constructors: spawn the helper, then confirm the mount
// directory actually became a mount point (or the helper already failed)
// before declaring success.
func construct(kind Kind, mountDir string, launcher *process.Launcher, fusermountPath string, log *slog.Logger) (*Driver, error) {
	handle, err := launcher.Spawn()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	if err := awaitMounted(handle, mountDir); err != nil {
		return nil, fmt.Errorf("%s mount %s: %w", kind, mountDir, err)
	}

	log.Info("mounted", "kind", kind, "dir", mountDir, "pid", handle.Pid())
	return &Driver{Kind: kind, MountDir: mountDir, handle: handle, fusermountPath: fusermountPath, log: log}, nil
}

// awaitMounted polls, for up to a short bounded window, for mountDir to
// become an active mount point, or for the helper to exit early (which
// is always a failure: a successful FUSE mount never returns before
// being signalled to unmount).
func awaitMounted(handle *process.Handle, mountDir string) error {
	const (
		pollInterval = 20 * time.Millisecond
		pollBudget   = 3 * time.Second
	)

	deadline := time.Now().Add(pollBudget)
	for time.Now().Before(deadline) {
		if code, err := handle.WaitShort(1 * time.Millisecond); err == nil {
			// The helper already exited, which is always a failure for a
			// FUSE mounter, which is expected to run for the mount's
			// lifetime.
			exit := -1
			if code != nil {
				exit = *code
			}
			return fmt.Errorf("%w: exited with code %d: %s", ErrHelperFailed, exit, handle.Output())
		}
		if mounted, statErr := isMountPoint(mountDir); statErr == nil && mounted {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("%w: mount did not become active within %s", ErrHelperFailed, pollBudget)
}

// isMountPoint reports whether dir's device differs from its parent's.
// FUSE mounts always change the device id, so this is sufficient for
// every helper this package drives.
func isMountPoint(dir string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Join(dir, ".."), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev, nil
}

// Unmount attempts a lazy, non-blocking unmount, retrying up to
// unmountRetries times on "filesystem busy" with unmountDelay between
// attempts. It never returns an error to the caller; the retry budget
// exhausting is logged once, not raised.
func (d *Driver) Unmount() {
	UnmountPath(d.fusermountPath, string(d.Kind), d.MountDir, d.log)
}

// UnmountPath runs the shared bounded-retry unmount discipline against a
// bare path, independent of any live Driver. The janitor binary uses this
// directly: it only ever holds a reversed list of mount-point strings
// from its argv, never the Driver that produced them.
func UnmountPath(fusermountPath, label, mountDir string, log *slog.Logger) {
	for attempt := 0; attempt < unmountRetries; attempt++ {
		// The parent's dispose path and the Janitor both walk the same
		// registry; whichever arrives second finds nothing mounted.
		if mounted, err := isMountPoint(mountDir); err == nil && !mounted {
			log.Debug("already unmounted", "kind", label, "dir", mountDir)
			return
		}
		h, err := process.New(fusermountPath, process.Captured, "-zu", mountDir).Spawn()
		if err != nil {
			log.Error("unmount spawn failed", "kind", label, "dir", mountDir, "error", err)
			return
		}
		code, err := h.Wait(nil)
		if err == nil && code != nil && *code == 0 {
			log.Info("unmounted", "kind", label, "dir", mountDir)
			return
		}
		time.Sleep(unmountDelay)
	}
	log.Error("giving up unmounting busy filesystem", "kind", label, "dir", mountDir, "attempts", unmountRetries)
}
