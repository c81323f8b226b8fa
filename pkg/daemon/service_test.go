package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/daemon"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// mockStateStream collects WatchState output.
type mockStateStream struct {
	grpc.ServerStream
	ctx context.Context

	mu   sync.Mutex
	sent []*otahubv1.StateResponse
}

func (m *mockStateStream) Send(resp *otahubv1.StateResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, resp)
	return nil
}

func (m *mockStateStream) Context() context.Context {
	return m.ctx
}

func (m *mockStateStream) kinds() []coordinator.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]coordinator.Kind, len(m.sent))
	for i, s := range m.sent {
		kinds[i] = s.State.Kind
	}
	return kinds
}

func newService(t *testing.T) (*daemon.Service, *updateServer, string) {
	t.Helper()
	srv := newUpdateServer(t)
	coord, downloads := newCoordinator(t, srv.URL)
	svc := daemon.NewService(coord, daemon.ServiceOptions{
		Device:         testDevice,
		Version:        "test",
		AndroidVersion: "14",
		SecurityPatch:  "2024-03-05",
	})
	return svc, srv, downloads
}

func waitForKind(t *testing.T, svc *daemon.Service, want coordinator.Kind) *otahubv1.StateResponse {
	t.Helper()
	var last *otahubv1.StateResponse
	require.Eventually(t, func() bool {
		resp, err := svc.GetState(context.Background(), &otahubv1.GetStateRequest{})
		if err != nil {
			return false
		}
		last = resp
		return resp.State.Kind == want
	}, 5*time.Second, 10*time.Millisecond, "state never became %s", want)
	return last
}

func TestService_GetState_Initial(t *testing.T) {
	svc, _, _ := newService(t)

	resp, err := svc.GetState(context.Background(), &otahubv1.GetStateRequest{})
	require.NoError(t, err)

	assert.Equal(t, coordinator.NoUpdate, resp.State.Kind)
	assert.Equal(t, testDevice, resp.Device)
	assert.Equal(t, "test", resp.DaemonVersion)
	assert.Equal(t, "14", resp.AndroidVersion)
	assert.Equal(t, "2024-03-05", resp.SecurityPatch)
	_, checked := resp.LastCheck()
	assert.False(t, checked)
}

func TestService_Check(t *testing.T) {
	svc, _, _ := newService(t)

	before := time.Now().Add(-time.Second)
	resp, err := svc.Check(context.Background(), &otahubv1.CheckRequest{})
	require.NoError(t, err)

	assert.Equal(t, coordinator.UpdateAvailable, resp.State.Kind)
	require.NotNil(t, resp.State.Entry)
	assert.Equal(t, testFilename, resp.State.Entry.Filename)

	at, checked := resp.LastCheck()
	require.True(t, checked)
	assert.True(t, at.After(before))
}

func TestService_Check_FetchFailure(t *testing.T) {
	svc, srv, _ := newService(t)
	srv.failing.Store(true)

	_, err := svc.Check(context.Background(), &otahubv1.CheckRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	resp, err := svc.GetState(context.Background(), &otahubv1.GetStateRequest{})
	require.NoError(t, err)
	assert.Equal(t, coordinator.Error, resp.State.Kind)
	assert.Contains(t, resp.State.Message, "failed to fetch update")
	_, checked := resp.LastCheck()
	assert.False(t, checked, "a failed check must not record a check time")
}

func TestService_StartDownload_Errors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.StartDownload(ctx, &otahubv1.StartDownloadRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "no check yet")

	_, err = svc.Check(ctx, &otahubv1.CheckRequest{})
	require.NoError(t, err)

	_, err = svc.StartDownload(ctx, &otahubv1.StartDownloadRequest{Filename: "other.zip"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestService_Download(t *testing.T) {
	svc, srv, downloads := newService(t)
	ctx := context.Background()

	_, err := svc.Check(ctx, &otahubv1.CheckRequest{})
	require.NoError(t, err)

	_, err = svc.StartDownload(ctx, &otahubv1.StartDownloadRequest{Filename: testFilename})
	require.NoError(t, err)

	resp := waitForKind(t, svc, coordinator.Downloaded)
	path := filepath.Join(downloads, testFilename)
	assert.Equal(t, path, resp.State.FilePath)
	assert.Equal(t, 100, resp.State.Progress)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, srv.payload, data)
}

func TestService_ResponsesMatchTransfer(t *testing.T) {
	svc, _, downloads := newService(t)
	ctx := context.Background()

	_, err := svc.Check(ctx, &otahubv1.CheckRequest{})
	require.NoError(t, err)
	_, err = svc.StartDownload(ctx, &otahubv1.StartDownloadRequest{})
	require.NoError(t, err)
	waitForKind(t, svc, coordinator.Downloaded)

	// The file is complete, so starting again answers Downloaded at once.
	resp, err := svc.StartDownload(ctx, &otahubv1.StartDownloadRequest{})
	require.NoError(t, err)
	assert.Equal(t, coordinator.Downloaded, resp.State.Kind)
	assert.Equal(t, transfer.Completed, resp.Transfer.State)

	resp, err = svc.Cancel(ctx, &otahubv1.CancelRequest{})
	require.NoError(t, err)
	assert.Equal(t, coordinator.Cancelled, resp.State.Kind)
	assert.Equal(t, transfer.Cancelled, resp.Transfer.State)
	_, err = os.Stat(filepath.Join(downloads, testFilename))
	assert.True(t, os.IsNotExist(err))
}

func TestService_ControlErrors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Pause(ctx, &otahubv1.PauseRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = svc.Resume(ctx, &otahubv1.ResumeRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = svc.Cancel(ctx, &otahubv1.CancelRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestService_WatchState(t *testing.T) {
	svc, _, _ := newService(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &mockStateStream{ctx: ctx}

	done := make(chan error, 1)
	go func() {
		done <- svc.WatchState(&otahubv1.WatchStateRequest{}, stream)
	}()

	// The current state arrives first.
	require.Eventually(t, func() bool {
		return len(stream.kinds()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, coordinator.NoUpdate, stream.kinds()[0])

	_, err := svc.Check(context.Background(), &otahubv1.CheckRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		kinds := stream.kinds()
		return kinds[len(kinds)-1] == coordinator.UpdateAvailable
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchState did not return after the client went away")
	}
}

func TestService_Shutdown(t *testing.T) {
	called := make(chan struct{})
	srv := newUpdateServer(t)
	coord, _ := newCoordinator(t, srv.URL)
	svc := daemon.NewService(coord, daemon.ServiceOptions{
		OnShutdown: func() { close(called) },
	})

	resp, err := svc.Shutdown(context.Background(), &otahubv1.ShutdownRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("OnShutdown was not called")
	}
}
