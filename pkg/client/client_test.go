package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

type mockHub struct {
	otahubv1.UnimplementedHubServer

	mu       sync.Mutex
	filename string
	shutdown bool
	states   []coordinator.Kind
}

func (m *mockHub) resp(kind coordinator.Kind) *otahubv1.StateResponse {
	return &otahubv1.StateResponse{
		State:    coordinator.UiState{Kind: kind, Total: -1},
		Transfer: transfer.Status{State: transfer.Idle, Total: -1},
		Device:   "ginkgo",
	}
}

func (m *mockHub) Check(context.Context, *otahubv1.CheckRequest) (*otahubv1.StateResponse, error) {
	r := m.resp(coordinator.UpdateAvailable)
	r.State.Entry = &manifest.Entry{Filename: "aospa.zip", Version: "2.0", Size: 2048}
	return r, nil
}

func (m *mockHub) StartDownload(_ context.Context, req *otahubv1.StartDownloadRequest) (*otahubv1.StateResponse, error) {
	m.mu.Lock()
	m.filename = req.Filename
	m.mu.Unlock()
	if req.Filename == "nope.zip" {
		return nil, status.Error(codes.NotFound, "no such file in the last manifest: nope.zip")
	}
	return m.resp(coordinator.Preparing), nil
}

func (m *mockHub) Pause(context.Context, *otahubv1.PauseRequest) (*otahubv1.StateResponse, error) {
	return nil, status.Error(codes.FailedPrecondition, "no transfer in progress")
}

func (m *mockHub) Resume(context.Context, *otahubv1.ResumeRequest) (*otahubv1.StateResponse, error) {
	return m.resp(coordinator.Preparing), nil
}

func (m *mockHub) Cancel(context.Context, *otahubv1.CancelRequest) (*otahubv1.StateResponse, error) {
	return m.resp(coordinator.Cancelled), nil
}

func (m *mockHub) GetState(context.Context, *otahubv1.GetStateRequest) (*otahubv1.StateResponse, error) {
	return m.resp(coordinator.NoUpdate), nil
}

func (m *mockHub) WatchState(_ *otahubv1.WatchStateRequest, stream grpc.ServerStreamingServer[otahubv1.StateResponse]) error {
	for _, k := range m.states {
		if err := stream.Send(m.resp(k)); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockHub) Shutdown(context.Context, *otahubv1.ShutdownRequest) (*otahubv1.ShutdownResponse, error) {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	return &otahubv1.ShutdownResponse{Success: true}, nil
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "otahub-client-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startMock(t *testing.T, hub *mockHub) string {
	t.Helper()

	socket := filepath.Join(shortTempDir(t), "d.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	srv := grpc.NewServer()
	otahubv1.RegisterHubServer(srv, hub)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return socket
}

func connect(t *testing.T, socket string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Connect(ctx, socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnect_NoSocket(t *testing.T) {
	_, err := Connect(context.Background(), filepath.Join(shortTempDir(t), "missing.sock"))
	require.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestConnect_Timeout(t *testing.T) {
	// A plain file where the socket should be never becomes ready.
	path := filepath.Join(shortTempDir(t), "fake.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Calls(t *testing.T) {
	hub := &mockHub{}
	c := connect(t, startMock(t, hub))
	ctx := context.Background()

	resp, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.UpdateAvailable, resp.State.Kind)
	require.NotNil(t, resp.State.Entry)
	assert.Equal(t, "aospa.zip", resp.State.Entry.Filename)
	assert.Equal(t, "ginkgo", resp.Device)

	resp, err = c.StartDownload(ctx, "aospa.zip")
	require.NoError(t, err)
	assert.Equal(t, coordinator.Preparing, resp.State.Kind)
	hub.mu.Lock()
	assert.Equal(t, "aospa.zip", hub.filename)
	hub.mu.Unlock()

	resp, err = c.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.Preparing, resp.State.Kind)

	resp, err = c.Cancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.Cancelled, resp.State.Kind)

	resp, err = c.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.NoUpdate, resp.State.Kind)

	require.NoError(t, c.Shutdown(ctx))
	hub.mu.Lock()
	assert.True(t, hub.shutdown)
	hub.mu.Unlock()
}

func TestClient_Errors(t *testing.T) {
	c := connect(t, startMock(t, &mockHub{}))
	ctx := context.Background()

	_, err := c.StartDownload(ctx, "nope.zip")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, "no such file in the last manifest: nope.zip", ErrorMessage(err))

	_, err = c.Pause(ctx)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "no transfer in progress", ErrorMessage(err))
}

func TestErrorMessage_PlainError(t *testing.T) {
	assert.Equal(t, assert.AnError.Error(), ErrorMessage(assert.AnError))
}

func TestClient_Watch(t *testing.T) {
	hub := &mockHub{states: []coordinator.Kind{
		coordinator.Preparing,
		coordinator.Downloading,
		coordinator.Downloaded,
	}}
	c := connect(t, startMock(t, hub))

	t.Run("until stream ends", func(t *testing.T) {
		var got []coordinator.Kind
		err := c.Watch(context.Background(), func(r *otahubv1.StateResponse) bool {
			got = append(got, r.State.Kind)
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, hub.states, got)
	})

	t.Run("stop early", func(t *testing.T) {
		var got []coordinator.Kind
		err := c.Watch(context.Background(), func(r *otahubv1.StateResponse) bool {
			got = append(got, r.State.Kind)
			return r.State.Kind != coordinator.Downloading
		})
		require.NoError(t, err)
		assert.Equal(t, []coordinator.Kind{coordinator.Preparing, coordinator.Downloading}, got)
	})
}

func TestPathsFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Daemon: config.DaemonConfig{
		SocketPath: filepath.Join(dir, "otahubd.sock"),
		PIDPath:    filepath.Join(dir, "run", "otahubd.pid"),
		DBPath:     filepath.Join(dir, "db"),
	}}
	cfg.Daemon.BinaryPath = "/opt/otahub/otahubd"

	p := PathsFromConfig(cfg)
	assert.Equal(t, "/opt/otahub/otahubd", p.Binary)
	assert.Equal(t, cfg.Daemon.SocketPath, p.Socket)
	assert.Equal(t, cfg.Daemon.PIDPath, p.PID)
	assert.Equal(t, filepath.Join(filepath.Dir(cfg.Daemon.PIDPath), "otahub.status"), p.Status)
}

func TestResolveBinary(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		bin := filepath.Join(t.TempDir(), "otahubd")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

		got, err := resolveBinary(bin)
		require.NoError(t, err)
		assert.Equal(t, bin, got)
	})

	t.Run("configured missing", func(t *testing.T) {
		_, err := resolveBinary(filepath.Join(t.TempDir(), "otahubd"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configured binary not found")
	})

	t.Run("path lookup", func(t *testing.T) {
		dir := t.TempDir()
		bin := filepath.Join(dir, DaemonBinary)
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
		t.Setenv("PATH", dir)

		got, err := resolveBinary("")
		require.NoError(t, err)
		assert.Equal(t, bin, got)
	})
}

func TestStartDaemon_ReportsStartupError(t *testing.T) {
	dir := shortTempDir(t)

	// Stands in for otahubd: reports a startup failure the way the daemon
	// does, using the paths handed over in the environment.
	script := "#!/bin/sh\n" +
		"printf '{\"status\":\"error\",\"error\":\"unknown device\"}' > \"$(dirname \"$OTAHUB_DAEMON_PID_PATH\")/otahub.status\"\n"
	bin := filepath.Join(dir, "otahubd")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	paths := DaemonPaths{
		Binary: bin,
		Socket: filepath.Join(dir, "d.sock"),
		PID:    filepath.Join(dir, "otahubd.pid"),
		Status: filepath.Join(dir, "otahub.status"),
	}

	err := StartDaemon(paths)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device")
	assert.False(t, IsDaemonRunning(paths))
}

func TestStartDaemon_AlreadyRunning(t *testing.T) {
	dir := shortTempDir(t)
	pidPath := filepath.Join(dir, "otahubd.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	paths := DaemonPaths{
		Binary: filepath.Join(dir, "does-not-exist"),
		Socket: filepath.Join(dir, "d.sock"),
		PID:    pidPath,
		Status: filepath.Join(dir, "otahub.status"),
	}

	// The binary is never looked up when the PID file names a live process.
	require.NoError(t, StartDaemon(paths))
	assert.True(t, IsDaemonRunning(paths))
}

func TestStopDaemon_NotRunning(t *testing.T) {
	dir := shortTempDir(t)
	paths := DaemonPaths{
		Socket: filepath.Join(dir, "d.sock"),
		PID:    filepath.Join(dir, "otahubd.pid"),
	}
	require.NoError(t, StopDaemon(paths))
}
