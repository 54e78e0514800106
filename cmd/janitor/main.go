// Command janitor is the watchdog process forked by the resident
// launcher. It receives the mount-point registry, already reversed, as
// its trailing argv; it polls its parent's pid for liveness and also
// listens for a termination signal, and on either event unmounts every
// path it was given, in order, with the same bounded-retry discipline
// as the mount drivers.
//
// The binary additionally accepts a leading --log-dir flag (unused by
// the resident launcher, which redirects stdout/stderr itself before
// spawning) so it can be invoked directly for manual cleanup during
// development. The flag's value only appears in a debug log line; nothing
// is written to that directory.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/flatimage/fim/lib/mount"
	"github.com/flatimage/fim/lib/process"
	"golang.org/x/sys/unix"
)

const livenessPollInterval = 200 * time.Millisecond

func main() {
	logDir := flag.String("log-dir", "", "directory noted for manual invocation; nothing is written to it (unused in normal operation)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("subsystem", "JANITOR"))
	if *logDir != "" {
		log.Debug("manual invocation", "log-dir", *logDir)
	}

	paths := flag.Args()
	parentPid, err := strconv.Atoi(os.Getenv("PID_PARENT"))
	if err != nil {
		log.Error("PID_PARENT missing or unparsable", "error", err)
		os.Exit(1)
	}

	fusermountPath, err := process.SearchPath("fusermount", os.Getenv("PATH"))
	if err != nil {
		log.Error("fusermount not found on PATH", "error", err)
		os.Exit(1)
	}

	waitForTrigger(parentPid, log)

	for _, p := range paths {
		mount.UnmountPath(fusermountPath, "janitor", p, log)
	}
	log.Info("cleanup complete", "paths", len(paths))
}

// waitForTrigger blocks until the parent process disappears or a
// termination signal arrives.
func waitForTrigger(parentPid int, log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(livenessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("received termination signal", "signal", sig)
			return
		case <-ticker.C:
			if err := unix.Kill(parentPid, 0); err != nil {
				log.Info("parent process gone", "pid", parentPid, "error", err)
				return
			}
		}
	}
}
