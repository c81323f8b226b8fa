package otahubv1

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

type fakeHub struct {
	UnimplementedHubServer
	mu           sync.Mutex
	lastFilename string
	states       []coordinator.UiState
}

func (f *fakeHub) Check(context.Context, *CheckRequest) (*StateResponse, error) {
	resp := &StateResponse{
		State: coordinator.UiState{
			Kind:  coordinator.UpdateAvailable,
			Entry: &manifest.Entry{Filename: "a.zip", Version: "2.0", Size: 1024},
			Total: 1024,
		},
		Transfer: transfer.Status{State: transfer.Idle, Total: -1},
		Device:   "ginkgo",
	}
	resp.SetLastCheck(time.UnixMilli(1700000000123), true)
	return resp, nil
}

func (f *fakeHub) StartDownload(_ context.Context, req *StartDownloadRequest) (*StateResponse, error) {
	f.mu.Lock()
	f.lastFilename = req.Filename
	f.mu.Unlock()
	if req.Filename == "missing.zip" {
		return nil, status.Error(codes.NotFound, "no such file")
	}
	return &StateResponse{State: coordinator.UiState{Kind: coordinator.Preparing}}, nil
}

func (f *fakeHub) WatchState(_ *WatchStateRequest, stream grpc.ServerStreamingServer[StateResponse]) error {
	for _, s := range f.states {
		if err := stream.Send(&StateResponse{State: s}); err != nil {
			return err
		}
	}
	return nil
}

func startHub(t *testing.T, srv HubServer) HubClient {
	t.Helper()

	// Unix socket paths are length limited; keep the directory short.
	dir, err := os.MkdirTemp("", "otahub-api-*")
	require.NoError(t, err)
	socket := filepath.Join(dir, "hub.sock")

	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	s := grpc.NewServer()
	RegisterHubServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.GracefulStop()
		_ = os.RemoveAll(dir)
	})
	return NewHubClient(conn)
}

func TestHub_UnaryRoundTrip(t *testing.T) {
	client := startHub(t, &fakeHub{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &CheckRequest{})
	require.NoError(t, err)

	assert.Equal(t, coordinator.UpdateAvailable, resp.State.Kind)
	require.NotNil(t, resp.State.Entry)
	assert.Equal(t, "a.zip", resp.State.Entry.Filename)
	assert.Equal(t, manifest.FlexInt(1024), resp.State.Entry.Size)
	assert.Equal(t, transfer.Idle, resp.Transfer.State)
	assert.Equal(t, int64(-1), resp.Transfer.Total)
	assert.Equal(t, "ginkgo", resp.Device)

	at, ok := resp.LastCheck()
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000123), at.UnixMilli())
}

func TestHub_RequestFieldsAndErrors(t *testing.T) {
	hub := &fakeHub{}
	client := startHub(t, hub)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.StartDownload(ctx, &StartDownloadRequest{Filename: "b.zip"})
	require.NoError(t, err)
	assert.Equal(t, coordinator.Preparing, resp.State.Kind)
	hub.mu.Lock()
	assert.Equal(t, "b.zip", hub.lastFilename)
	hub.mu.Unlock()

	_, err = client.StartDownload(ctx, &StartDownloadRequest{Filename: "missing.zip"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHub_Unimplemented(t *testing.T) {
	client := startHub(t, &fakeHub{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Pause(ctx, &PauseRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	_, err = client.Shutdown(ctx, &ShutdownRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestHub_WatchState(t *testing.T) {
	hub := &fakeHub{states: []coordinator.UiState{
		{Kind: coordinator.Preparing},
		{Kind: coordinator.Downloading, Progress: 50},
		{Kind: coordinator.Downloaded, FilePath: "/d/a.zip"},
	}}
	client := startHub(t, hub)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.WatchState(ctx, &WatchStateRequest{})
	require.NoError(t, err)

	var got []coordinator.Kind
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, resp.State.Kind)
	}
	assert.Equal(t, []coordinator.Kind{coordinator.Preparing, coordinator.Downloading, coordinator.Downloaded}, got)
}

func TestCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	var req StartDownloadRequest
	require.NoError(t, c.Unmarshal(nil, &req))
	assert.Empty(t, req.Filename)

	data, err := c.Marshal(&StartDownloadRequest{Filename: "x.zip"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"filename":"x.zip"}`, string(data))

	assert.Error(t, c.Unmarshal([]byte("{"), &req))
	_, err = c.Marshal(func() {})
	assert.Error(t, err)
}

func TestStateResponse_LastCheck(t *testing.T) {
	var r StateResponse
	_, ok := r.LastCheck()
	assert.False(t, ok)

	now := time.UnixMilli(1234567)
	r.SetLastCheck(now, true)
	got, ok := r.LastCheck()
	assert.True(t, ok)
	assert.True(t, now.Equal(got))

	r.SetLastCheck(now, false)
	_, ok = r.LastCheck()
	assert.False(t, ok)

	var nilResp *StateResponse
	_, ok = nilResp.LastCheck()
	assert.False(t, ok)
}
