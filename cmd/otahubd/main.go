// Command otahubd is the otahub background daemon. It owns the update
// state, runs scheduled checks, and serves the otahub CLI over a unix
// socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/viper"

	"github.com/jamesainslie/otahub/pkg/daemon"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// Set with -ldflags at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "otahubd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.EnsureDataDir(); err != nil {
		return err
	}

	v, err := config.NewViper()
	if err != nil {
		reportConfigError(nil, err)
		return err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		reportConfigError(v, err)
		return err
	}

	if err := logging.Init(cfg.Logging.LogConfig("")); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logging.Close() }()
	log := logging.Get("daemon")

	paths := daemon.PathsFromConfig(cfg)
	if daemon.IsDaemonRunning(paths.PID) {
		return daemon.ErrDaemonAlreadyRunning
	}
	if err := daemon.RecoverFromStaleDaemon(paths); err != nil {
		log.Warn("stale daemon cleanup", "error", err)
	}

	if err := daemon.WritePIDFile(paths.PID); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		if err := daemon.RemovePIDFile(paths.PID); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("removing pid file", "error", err)
		}
	}()

	d, err := daemon.New(daemon.Options{Config: cfg, Viper: v, Version: version})
	if err != nil {
		log.Error("startup failed", "error", err)
		if werr := daemon.WriteStatusError(paths.Status, err); werr != nil {
			log.Warn("writing status file", "error", werr)
		}
		return err
	}
	defer func() { _ = daemon.RemoveStatus(paths.Status) }()

	if err := daemon.WriteStatusReady(paths.Status, paths.Socket, version); err != nil {
		log.Warn("writing status file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("otahubd started", "version", version, "socket", paths.Socket, "device", d.Device().Codename)
	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		return err
	}
	log.Info("otahubd stopped")
	return nil
}

// reportConfigError writes a startup error status for a config that could
// not be loaded, so a client waiting on the status file sees the reason.
func reportConfigError(v *viper.Viper, err error) {
	pidPath := config.DefaultPIDPath()
	if v != nil {
		if p := v.GetString("daemon.pid_path"); p != "" {
			if expanded, xerr := config.ExpandPath(p); xerr == nil {
				pidPath = expanded
			}
		}
	}
	_ = daemon.WriteStatusError(daemon.StatusPath(filepath.Dir(pidPath)), err)
}
