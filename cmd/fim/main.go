// Command fim is the self-extracting, self-mounting application bundle
// launcher. Invoked without FIM_BOOTSTRAPPED, it runs the first-run
// extraction stage and re-execs itself; invoked with it already set, it
// is the resident launcher: resolve configuration, compose the
// filesystem stack, hand off to the contained application, and dispose
// of the stack on exit.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flatimage/fim/lib/bootstrap"
	"github.com/flatimage/fim/lib/config"
	"github.com/flatimage/fim/lib/fsstack"
	"github.com/flatimage/fim/lib/janitor"
	"github.com/flatimage/fim/lib/logger"
	"github.com/flatimage/fim/lib/paths"
	"github.com/flatimage/fim/lib/process"
)

func main() {
	if !bootstrap.IsBootstrapped() {
		if err := bootstrap.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "fim: bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		// bootstrap.Run only returns on error: success replaces this
		// process image via syscall.Exec and never reaches here.
	}

	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fim:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return 1, fmt.Errorf("resolve configuration: %w", err)
	}
	if err := cfg.Export(); err != nil {
		return 1, fmt.Errorf("export configuration: %w", err)
	}

	logCfg := logger.NewConfig()
	sessionID := janitor.NewSessionID()
	newLog := func(subsystem string) *slog.Logger {
		return logger.New(os.Stderr, subsystem, logCfg).With(slog.String("session", sessionID))
	}
	bootLog := newLog(logger.SubsystemBoot)

	p := paths.New(bootstrap.CacheRoot(filepath.Base(cfg.FileBinary)), cfg.DirMount, cfg.DirConfig)
	instanceID := filepath.Base(cfg.DirInstance)

	if diagnostic, err := cfg.CheckSlack(cfg.DirConfig); err != nil {
		return 1, fmt.Errorf("insufficient space for overlay state: %w", err)
	} else {
		bootLog.Debug("slack check", "diagnostic", diagnostic)
	}

	janitorPath, err := process.SearchPath("janitor", cfg.SearchPath)
	if err != nil {
		return 1, fmt.Errorf("locate janitor binary: %w", err)
	}

	stack, err := fsstack.Compose(fsstack.Options{
		SearchPath:    cfg.SearchPath,
		HostBinary:    cfg.FileBinary,
		StartOffset:   cfg.Offset,
		ParentPid:     cfg.Pid,
		Debug:         cfg.Debug,
		Casefold:      cfg.Casefold,
		LayersRoot:    p.LayersRoot(),
		OverlayUpper:  p.OverlayUpper(instanceID),
		OverlayWork:   p.OverlayWork(instanceID),
		OverlayMount:  p.OverlayRoot(),
		JanitorPath:   janitorPath,
		JanitorStdout: p.JanitorStdoutLog(sessionID),
		JanitorStderr: p.JanitorStderrLog(sessionID),
		Log:           newLog,
	})
	if err != nil {
		return 1, fmt.Errorf("compose filesystem stack: %w", err)
	}
	defer stack.Dispose()

	return runContainedApp(cfg)
}

// runContainedApp hands off to the contained application entry point:
// FIM_DIR_APP_BIN/entrypoint with the caller's own arguments, inheriting
// stdio, and reports its exit code.
//
// Termination signals delivered to the launcher are forwarded to the
// application rather than acted on directly: the application exits, Wait
// returns, and the deferred stack disposal unwinds the mounts. Shutdown
// is the same path whether normal or signalled.
func runContainedApp(cfg *config.Config) (int, error) {
	entrypoint := filepath.Join(cfg.DirAppBin, "entrypoint")
	launcher := process.New(entrypoint, process.Inherit, os.Args[1:]...)

	handle, err := launcher.Spawn()
	if err != nil {
		return 1, fmt.Errorf("spawn contained application: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if s, ok := sig.(syscall.Signal); ok {
				_ = handle.Signal(s)
			}
		}
	}()

	code, err := handle.Wait(nil)
	if err != nil {
		return 1, fmt.Errorf("wait for contained application: %w", err)
	}
	if code == nil {
		return 1, nil
	}
	return *code, nil
}
