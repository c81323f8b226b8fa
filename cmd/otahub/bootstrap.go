package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/otahub/pkg/client"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

const connectTimeout = 5 * time.Second

// initializeLogging loads the config and starts logging. It runs before
// every command. The config and version commands still work with a broken
// config file.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	v, cfg, err := loadConfig(cmd)
	appViper = v
	if err != nil {
		if tolerantOfConfigErrors(cmd) {
			printVerbose("config: %v", err)
			return nil
		}
		return err
	}
	appConfig = cfg

	console := ""
	if verbose {
		console = "debug"
	}
	if err := logging.Init(cfg.Logging.LogConfig(console)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	logging.Get("cli").Debug("command", "name", cmd.CommandPath())
	return nil
}

func tolerantOfConfigErrors(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd || c == versionCmd {
			return true
		}
	}
	return false
}

// maybeStartDaemon starts otahubd when auto-start is enabled and it is not
// already running.
func maybeStartDaemon(cfg *config.Config) error {
	if !cfg.Daemon.AutoStart || noAutoStart {
		return nil
	}
	paths := client.PathsFromConfig(cfg)
	if client.IsDaemonRunning(paths) {
		return nil
	}
	printVerbose("starting otahubd")
	return client.EnsureDaemon(paths)
}

// withClient connects to the daemon, starting it first if allowed, and
// runs fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	cfg := appConfig
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	if err := maybeStartDaemon(cfg); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	c, err := client.Connect(dialCtx, cfg.Daemon.SocketPath)
	cancel()
	if err != nil {
		if errors.Is(err, client.ErrDaemonNotRunning) {
			return fmt.Errorf("%w (start it with: otahub daemon start)", client.ErrDaemonNotRunning)
		}
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

// rpcError turns a daemon error into a one-line CLI error.
func rpcError(action string, err error) error {
	return fmt.Errorf("%s: %s", action, client.ErrorMessage(err))
}
