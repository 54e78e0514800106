// Package janitor implements the parent-side half of the watchdog
// protocol: forking a separate process that holds the mount-point
// registry and guarantees it is unmounted even if this process dies
// before its own teardown runs. The child-side half (liveness polling,
// signal handling, unmount-on-exit) lives in the janitor binary itself,
// cmd/janitor. It must be a distinct process image, never a goroutine:
// the watchdog has to survive the parent being SIGKILLed.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/flatimage/fim/lib/process"
	"github.com/nrednav/cuid2"
)

// BinaryName is the helper binary the parent re-execs into.
const BinaryName = "janitor"

// NewSessionID mints the short token that namespaces one launcher run's
// janitor log files, so concurrent sessions sharing a mount-root parent
// directory do not interleave or clobber each other's logs.
func NewSessionID() string {
	return cuid2.Generate()
}

// Supervisor is the parent's handle on the forked watchdog process.
type Supervisor struct {
	handle *process.Handle
	log    *slog.Logger
}

// Fork spawns the janitor binary with the mount-point registry, already
// reversed, as its argv. The parent's own pid is recorded into
// PID_PARENT before forking so the janitor can poll it for liveness;
// stdout/stderr are redirected to the given log files and stdin is left
// unset (closed).
//
// What matters for surviving parent SIGKILL is that the janitor is a
// genuinely separate process image, which exec.Command always provides.
func Fork(janitorPath, stdoutLog, stderrLog string, registryReversed []string, log *slog.Logger) (*Supervisor, error) {
	if err := os.Setenv("PID_PARENT", strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("set PID_PARENT: %w", err)
	}

	outFile, err := os.OpenFile(stdoutLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open janitor stdout log %s: %w", stdoutLog, err)
	}
	errFile, err := os.OpenFile(stderrLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("open janitor stderr log %s: %w", stderrLog, err)
	}

	launcher := process.NewWithWriters(janitorPath, outFile, errFile, registryReversed...)
	handle, err := launcher.Spawn()
	if err != nil {
		outFile.Close()
		errFile.Close()
		return nil, fmt.Errorf("fork janitor: %w", err)
	}

	log.Info("janitor forked", "pid", handle.Pid(), "paths", len(registryReversed))
	return &Supervisor{handle: handle, log: log}, nil
}

// Signal sends a termination signal to the janitor, asking it to
// complete cleanup and exit.
func (s *Supervisor) Signal(sig syscall.Signal) error {
	return s.handle.Signal(sig)
}

// Wait blocks for the janitor to exit. An abnormal or non-zero exit is
// logged here, never escalated to the caller, since by the time this
// returns the mounts are either already gone or will be reaped by the
// kernel regardless.
func (s *Supervisor) Wait(ctx context.Context) {
	code, err := s.handle.Wait(ctx)
	switch {
	case err != nil:
		s.log.Error("janitor wait failed", "error", err)
	case code == nil:
		s.log.Error("janitor exited on signal")
	case *code != 0:
		s.log.Error("janitor exited non-zero", "code", *code)
	default:
		s.log.Info("janitor exited cleanly")
	}
}

// WaitTimeout is a convenience over Wait bounding how long the dispose
// path waits for the janitor before giving up and moving on.
func (s *Supervisor) WaitTimeout(d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	s.Wait(ctx)
}
