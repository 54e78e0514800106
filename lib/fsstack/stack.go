// Package fsstack orchestrates the ordered composition of read-only
// Layers, an optional CaseFold translator, and the union Overlay into a
// single composed root, then forks the janitor supervisor over the
// resulting registry.
package fsstack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flatimage/fim/lib/janitor"
	"github.com/flatimage/fim/lib/mount"
	"github.com/flatimage/fim/lib/payload"
)

// janitorShutdownTimeout bounds how long Dispose waits for the janitor
// to finish its own cleanup pass before moving on; teardown is always
// best-effort.
const janitorShutdownTimeout = 5 * time.Second

// Options carries every input Compose needs, gathered from the
// configuration record and the caller's loggers so this package never
// reaches into config or os.Getenv directly.
type Options struct {
	SearchPath     string
	HostBinary     string
	StartOffset    int64
	ParentPid      int
	Debug          bool
	Casefold       bool
	LayersRoot     string
	OverlayUpper   string
	OverlayWork    string
	OverlayMount   string
	JanitorPath    string
	JanitorStdout  string
	JanitorStderr  string
	Log            func(subsystem string) *slog.Logger
}

// Stack is the composed Filesystem stack: every constructed Driver plus
// the forked Janitor supervisor watching the same registry.
type Stack struct {
	reg     *registry
	janitor *janitor.Supervisor
	log     *slog.Logger
}

// Compose performs, strictly in order: enumerate Layers from the framed
// tail; mount each Layer; optionally mount CaseFold; mount the Overlay;
// fork the janitor over the completed registry. If any step fails, every
// already-constructed driver is unmounted in reverse order before the
// error is returned, and the janitor is never spawned.
func Compose(o Options) (st *Stack, err error) {
	reg := &registry{}
	defer func() {
		if err != nil {
			reg.unmountReversed()
		}
	}()

	frames, err := payload.Read(o.HostBinary, o.StartOffset)
	if err != nil {
		return nil, fmt.Errorf("enumerate layers: %w", err)
	}

	layerLog := o.Log("LAYER")
	for i, frame := range frames {
		dir := filepath.Join(o.LayersRoot, fmt.Sprintf("%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir layer %d: %w", i, err)
		}
		d, err := mount.NewReadOnlyLayer(o.SearchPath, o.HostBinary, dir, frame.Offset, frame.Length, o.ParentPid, o.Debug, layerLog)
		if err != nil {
			return nil, fmt.Errorf("mount layer %d: %w", i, err)
		}
		reg.push(d)
	}

	casefoldUpper := ""
	if o.Casefold {
		if len(frames) == 0 {
			return nil, fmt.Errorf("casefold requested with no layers to fold over")
		}
		lower := filepath.Join(o.LayersRoot, fmt.Sprintf("%d", len(frames)-1))
		upper := filepath.Join(o.LayersRoot, fmt.Sprintf("%d", len(frames)))
		if err := os.MkdirAll(upper, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir casefold upper: %w", err)
		}
		d, err := mount.NewCaseFold(o.SearchPath, lower, upper, o.Debug, o.Log("CASEFOLD"))
		if err != nil {
			return nil, fmt.Errorf("mount casefold: %w", err)
		}
		reg.push(d)
		casefoldUpper = upper
	}

	overlayDriver, err := mount.NewOverlay(o.SearchPath, o.LayersRoot, o.OverlayUpper, o.OverlayWork, o.OverlayMount, casefoldUpper, o.ParentPid, o.Debug, o.Log("OVERLAY"))
	if err != nil {
		return nil, fmt.Errorf("mount overlay: %w", err)
	}
	reg.push(overlayDriver)

	janitorLog := o.Log("JANITOR")
	sup, err := janitor.Fork(o.JanitorPath, o.JanitorStdout, o.JanitorStderr, reg.reversed(), janitorLog)
	if err != nil {
		return nil, fmt.Errorf("fork janitor: %w", err)
	}

	return &Stack{reg: reg, janitor: sup, log: janitorLog}, nil
}

// OverlayMount returns the composed root's directory, the path a
// contained application is launched against.
func (s *Stack) OverlayMount() string {
	p := s.reg.paths()
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Registry returns the registry's mount directories in push order, for
// diagnostics and testing.
func (s *Stack) Registry() []string {
	return s.reg.paths()
}

// Dispose proceeds in reverse: signal the janitor to quiesce and await
// its exit (best-effort, bounded), then unmount every driver in reverse
// construction order so the Overlay unmounts before the underlying
// Layers.
func (s *Stack) Dispose() {
	if err := s.janitor.Signal(syscall.SIGTERM); err != nil {
		s.log.Error("signal janitor failed", "error", err)
	} else {
		s.janitor.WaitTimeout(janitorShutdownTimeout)
	}
	s.reg.unmountReversed()
}
