package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/otahub/pkg/client"
	"github.com/jamesainslie/otahub/pkg/daemon"
	"github.com/jamesainslie/otahub/pkg/otahub/output"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the otahubd daemon",
	Long: `Manage the otahubd daemon.

The daemon runs update checks (on the configured check_schedule) and
downloads. The CLI starts it on demand unless daemon.auto_start is false.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the otahubd daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the otahubd daemon",
	Long:  `Stop the daemon gracefully. A running download is paused and resumes on the next start.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the otahubd daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func daemonPaths() (client.DaemonPaths, error) {
	if appConfig == nil {
		return client.DaemonPaths{}, errors.New("no configuration loaded")
	}
	return client.PathsFromConfig(appConfig), nil
}

func runDaemonStart(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if client.IsDaemonRunning(paths) {
		printInfo(cmd.OutOrStdout(), "Daemon already running")
		return nil
	}

	printVerbose("starting daemon (socket %s)", paths.Socket)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), "Daemon started")
	return nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if !client.IsDaemonRunning(paths) {
		return errors.New("daemon is not running")
	}

	printVerbose("stopping daemon (pid file %s)", paths.PID)
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), "Daemon stopped")
	return nil
}

func runDaemonRestart(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if err := client.RestartDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), "Daemon restarted")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !client.IsDaemonRunning(paths) {
		fmt.Fprintln(out, "Daemon status: not running")
		if st, err := daemon.ReadStatus(paths.Status); err == nil && st.Status == daemon.StatusError {
			fmt.Fprintf(out, "  Last start failed: %s\n", st.Error)
		}
		return nil
	}

	pid, _ := daemon.ReadPIDFile(paths.PID)
	fmt.Fprintln(out, "Daemon status: running")
	fmt.Fprintf(out, "  PID:    %d\n", pid)
	fmt.Fprintf(out, "  Socket: %s\n", paths.Socket)

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()

	c, err := client.Connect(ctx, paths.Socket)
	if err != nil {
		fmt.Fprintln(out, "  (not responding)")
		return nil
	}
	defer c.Close()

	resp, err := c.GetState(ctx)
	if err != nil {
		fmt.Fprintf(out, "  (state unavailable: %s)\n", client.ErrorMessage(err))
		return nil
	}
	fmt.Fprintf(out, "  Version: %s\n", resp.DaemonVersion)
	fmt.Fprintf(out, "  Device:  %s\n", resp.Device)
	if resp.AndroidVersion != "" {
		fmt.Fprintf(out, "  Android: %s (patch %s)\n", resp.AndroidVersion, output.FormatSecurityPatch(resp.SecurityPatch))
	}
	fmt.Fprintf(out, "  State:   %s\n", output.Summary(resp.State))
	return nil
}
