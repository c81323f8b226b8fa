package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
)

// gracePeriod bounds how long Close waits for in-flight RPCs.
const gracePeriod = 5 * time.Second

// Server serves the Hub service on a unix socket.
type Server struct {
	socketPath string
	grpc       *grpc.Server
	listener   net.Listener
}

// NewServer listens on socketPath, replacing a stale socket file, and
// registers hub.
func NewServer(socketPath string, hub otahubv1.HubServer) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(socketPath); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", socketPath)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		socketPath: socketPath,
		grpc:       grpc.NewServer(),
		listener:   listener,
	}
	otahubv1.RegisterHubServer(srv.grpc, hub)

	return srv, nil
}

// Serve blocks until the server stops.
func (s *Server) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Close stops the server, waiting up to gracePeriod for in-flight calls, and
// removes the socket.
func (s *Server) Close() error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		s.grpc.Stop()
		<-done
	}
	return os.RemoveAll(s.socketPath)
}
