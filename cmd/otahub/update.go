package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/client"
	"github.com/jamesainslie/otahub/pkg/daemon/store"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/device"
	"github.com/jamesainslie/otahub/pkg/otahub/output"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

var follow bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the update server now",
	Long: `Fetch the update manifest for this device and report whether a newer
build than the installed one is available. A successful check updates the
"last checked" time.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var downloadCmd = &cobra.Command{
	Use:   "download [filename]",
	Short: "Download the available update",
	Long: `Start downloading the update found by the last check, or the named file
from the last manifest. A partial file from an earlier attempt is resumed.

The download runs in the daemon; use --follow to watch it until it ends.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running download",
	Args:  cobra.NoArgs,
	RunE:  control("pause", (*client.Client).Pause),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused download",
	Args:  cobra.NoArgs,
	RunE:  control("resume", (*client.Client).Resume),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the download and delete its file",
	Args:  cobra.NoArgs,
	RunE:  control("cancel", (*client.Client).Cancel),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the update state",
	Long: `Show the update state reported by the daemon. If the daemon is not
running and auto-start is off, the last check time is read from its database.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream state changes until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	downloadCmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow progress until the download ends")

	rootCmd.AddCommand(checkCmd, downloadCmd, pauseCmd, resumeCmd, cancelCmd, statusCmd, watchCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.Check(ctx)
		if err != nil {
			return rpcError("check failed", err)
		}
		return render(cmd.OutOrStdout(), viewFromResponse(resp))
	})
}

func runDownload(cmd *cobra.Command, args []string) error {
	filename := ""
	if len(args) > 0 {
		filename = args[0]
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.StartDownload(ctx, filename)
		if err != nil {
			return rpcError("download failed", err)
		}
		if !follow {
			return render(cmd.OutOrStdout(), viewFromResponse(resp))
		}

		id := resp.Transfer.ID
		final, err := stream(ctx, cmd, c, func(r *otahubv1.StateResponse) bool {
			return transferSettled(id, r)
		})
		if err != nil {
			return rpcError("watch failed", err)
		}
		if ctx.Err() != nil {
			printInfo(cmd.ErrOrStderr(), "download continues in the background (otahub pause | cancel)")
			return nil
		}
		if final.Kind == coordinator.Error {
			return errors.New(final.Message)
		}
		return nil
	})
}

func control(action string, call func(*client.Client, context.Context) (*otahubv1.StateResponse, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			resp, err := call(c, ctx)
			if err != nil {
				return rpcError(action+" failed", err)
			}
			return render(cmd.OutOrStdout(), viewFromResponse(resp))
		})
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	if (!cfg.Daemon.AutoStart || noAutoStart) && !client.IsDaemonRunning(client.PathsFromConfig(cfg)) {
		return render(cmd.OutOrStdout(), offlineView())
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.GetState(ctx)
		if err != nil {
			return rpcError("status failed", err)
		}
		return render(cmd.OutOrStdout(), viewFromResponse(resp))
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		_, err := stream(ctx, cmd, c, func(*otahubv1.StateResponse) bool { return false })
		if err != nil {
			return rpcError("watch failed", err)
		}
		return nil
	})
}

// stream prints every state change until done reports true, ctx ends, or
// the daemon closes the stream. It returns the last state seen.
func stream(ctx context.Context, cmd *cobra.Command, c *client.Client, done func(*otahubv1.StateResponse) bool) (coordinator.UiState, error) {
	var (
		last     coordinator.UiState
		lastLine string
		werr     error
	)
	out := cmd.OutOrStdout()

	err := c.Watch(ctx, func(r *otahubv1.StateResponse) bool {
		last = r.State
		if streaming() {
			if werr = render(out, viewFromResponse(r)); werr != nil {
				return false
			}
		} else if line := output.Summary(r.State); line != lastLine {
			fmt.Fprintln(out, line)
			lastLine = line
		}
		return !done(r)
	})
	if werr != nil {
		return last, werr
	}
	return last, err
}

// transferSettled reports whether the transfer with id has reached a state
// the coordinator has finished reacting to.
func transferSettled(id string, r *otahubv1.StateResponse) bool {
	if id == "" || r.Transfer.ID != id {
		return false
	}
	switch r.Transfer.State {
	case transfer.Completed, transfer.Failed, transfer.Cancelled, transfer.Paused:
	default:
		return false
	}
	switch r.State.Kind {
	case coordinator.Downloaded, coordinator.Error, coordinator.Cancelled, coordinator.Paused:
		return true
	}
	return false
}

// offlineView describes the state without a daemon: nothing in flight, and
// the last check as recorded in the daemon's database.
func offlineView() *output.View {
	cfg := appConfig
	v := &output.View{
		State:    coordinator.UiState{Kind: coordinator.NoUpdate, Total: -1},
		Transfer: transfer.Status{State: transfer.Idle, Total: -1},
		Device:   cfg.Device,
	}

	if info, err := device.Detect(cfg.BuildProp, cfg.Device, cfg.InstalledBuildTime); err == nil {
		v.Device = info.Codename
		v.AndroidVersion = info.AndroidVersion
		v.SecurityPatch = info.SecurityPatch
	}

	if _, err := os.Stat(cfg.Daemon.DBPath); err != nil {
		return v
	}
	st, err := store.Open(cfg.Daemon.DBPath)
	if err != nil {
		printVerbose("open %s: %v", cfg.Daemon.DBPath, err)
		return v
	}
	defer func() { _ = st.Close() }()

	if t, ok, err := st.LastCheck(); err == nil {
		v.LastCheck, v.Checked = t, ok
	}
	if rec, ok, err := st.LoadTransfer(); err == nil && ok {
		v.State = coordinator.UiState{Kind: coordinator.Paused, Total: -1, FilePath: rec.Path}
		if !rec.Entry.IsZero() {
			entry := rec.Entry
			v.State.Entry = &entry
		}
		v.Transfer = transfer.Status{State: transfer.Paused, ID: rec.ID, URL: rec.URL, Path: rec.Path, Total: -1}
		if info, err := os.Stat(rec.Path); err == nil {
			v.State.Downloaded = info.Size()
			v.Transfer.Downloaded = info.Size()
		}
		v.State.Progress = transfer.ProgressIndeterminate
		v.Transfer.Progress = transfer.ProgressIndeterminate
	}
	return v
}
