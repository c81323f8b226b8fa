// Package client connects the otahub CLI to the otahubd daemon and manages
// the daemon process.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/daemon"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
)

// DaemonBinary is the daemon executable name.
const DaemonBinary = "otahubd"

// ErrDaemonNotRunning is returned when the daemon socket does not exist.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Client talks to otahubd over its unix socket.
type Client struct {
	conn *grpc.ClientConn
	hub  otahubv1.HubClient
}

// DaemonPaths locates the daemon binary and runtime files.
type DaemonPaths struct {
	Binary string // otahubd binary, auto-discovered if empty
	Socket string
	PID    string
	Status string
}

// PathsFromConfig resolves DaemonPaths from a loaded config.
func PathsFromConfig(cfg *config.Config) DaemonPaths {
	p := daemon.PathsFromConfig(cfg)
	return DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Socket: p.Socket,
		PID:    p.PID,
		Status: p.Status,
	}
}

// Connect dials the daemon and waits until the connection is ready or ctx
// ends.
func Connect(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("%w: no socket at %s", ErrDaemonNotRunning, socketPath)
	}

	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to connect to daemon: %w", ctx.Err())
		}
	}

	return &Client{
		conn: conn,
		hub:  otahubv1.NewHubClient(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Check asks the daemon to fetch the manifest now.
func (c *Client) Check(ctx context.Context) (*otahubv1.StateResponse, error) {
	return c.hub.Check(ctx, &otahubv1.CheckRequest{})
}

// StartDownload starts filename, or the update found by the last check when
// filename is empty.
func (c *Client) StartDownload(ctx context.Context, filename string) (*otahubv1.StateResponse, error) {
	return c.hub.StartDownload(ctx, &otahubv1.StartDownloadRequest{Filename: filename})
}

// Pause pauses the running download.
func (c *Client) Pause(ctx context.Context) (*otahubv1.StateResponse, error) {
	return c.hub.Pause(ctx, &otahubv1.PauseRequest{})
}

// Resume resumes a paused download.
func (c *Client) Resume(ctx context.Context) (*otahubv1.StateResponse, error) {
	return c.hub.Resume(ctx, &otahubv1.ResumeRequest{})
}

// Cancel cancels the download and deletes its file.
func (c *Client) Cancel(ctx context.Context) (*otahubv1.StateResponse, error) {
	return c.hub.Cancel(ctx, &otahubv1.CancelRequest{})
}

// GetState returns the daemon's current state.
func (c *Client) GetState(ctx context.Context) (*otahubv1.StateResponse, error) {
	return c.hub.GetState(ctx, &otahubv1.GetStateRequest{})
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.hub.Shutdown(ctx, &otahubv1.ShutdownRequest{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("daemon refused to shut down")
	}
	return nil
}

// Watch calls fn with the current state and every change after it. It
// returns nil when fn returns false, when ctx ends, or when the daemon
// closes the stream.
func (c *Client) Watch(ctx context.Context, fn func(*otahubv1.StateResponse) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.hub.WatchState(ctx, &otahubv1.WatchStateRequest{})
	if err != nil {
		return err
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !fn(resp) {
			return nil
		}
	}
}

// ErrorMessage returns the daemon's message for a gRPC error, or the error
// text for anything else.
func ErrorMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// EnsureDaemon starts the daemon unless it is already running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon starts otahubd in the background and waits for it to report
// ready. The daemon is told the socket and PID paths through the
// environment so both sides agree on them. Returns nil if it is already
// running.
func StartDaemon(paths DaemonPaths) error {
	if daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", DaemonBinary, err)
	}

	_ = os.Remove(paths.Status)

	// Not CommandContext: the daemon must outlive this process.
	cmd := exec.Command(binary) //nolint:gosec // binary comes from config or discovery
	cmd.Env = append(os.Environ(),
		"OTAHUB_DAEMON_SOCKET_PATH="+paths.Socket,
		"OTAHUB_DAEMON_PID_PATH="+paths.PID,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)

		if st, err := daemon.ReadStatus(paths.Status); err == nil {
			switch st.Status {
			case daemon.StatusReady:
				return nil
			case daemon.StatusError:
				return fmt.Errorf("daemon failed to start: %s", st.Error)
			}
		}
		if _, err := os.Stat(paths.Socket); err == nil && daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon shuts the daemon down over RPC and waits for it to exit.
// Returns nil if it is not running.
func StopDaemon(paths DaemonPaths) error {
	if !daemon.IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer c.Close()

	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	for range 40 {
		time.Sleep(250 * time.Millisecond)
		if !daemon.IsDaemonRunning(paths.PID) {
			return nil
		}
	}
	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// IsDaemonRunning reports whether the PID file names a live process.
func IsDaemonRunning(paths DaemonPaths) bool {
	return daemon.IsDaemonRunning(paths.PID)
}

// resolveBinary finds otahubd: the configured path, then next to the
// running executable, then PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), DaemonBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(DaemonBinary); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found", DaemonBinary)
}
