package daemon

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	otahubv1 "github.com/jamesainslie/otahub/pkg/api/otahub/v1"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/diskspace"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Device  string
	Version string

	AndroidVersion string
	SecurityPatch  string

	// OnShutdown is called once a Shutdown request has been answered.
	OnShutdown func()
}

// Service implements the otahub.v1.Hub gRPC service on top of a
// Coordinator.
type Service struct {
	otahubv1.UnimplementedHubServer

	coord *coordinator.Coordinator
	opts  ServiceOptions
	log   *logging.Logger
}

// NewService creates a Hub service.
func NewService(coord *coordinator.Coordinator, opts ServiceOptions) *Service {
	return &Service{
		coord: coord,
		opts:  opts,
		log:   logging.Get("daemon"),
	}
}

// Check fetches the manifest now.
func (s *Service) Check(ctx context.Context, _ *otahubv1.CheckRequest) (*otahubv1.StateResponse, error) {
	if err := s.coord.CheckForUpdate(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.stateResponse(s.coord.State()), nil
}

// StartDownload starts the named file, or the update from the last check.
func (s *Service) StartDownload(_ context.Context, req *otahubv1.StartDownloadRequest) (*otahubv1.StateResponse, error) {
	var err error
	if req.Filename != "" {
		err = s.coord.StartFile(req.Filename)
	} else {
		err = s.coord.StartAvailable()
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return s.stateResponse(s.coord.State()), nil
}

// Pause pauses the running transfer.
func (s *Service) Pause(_ context.Context, _ *otahubv1.PauseRequest) (*otahubv1.StateResponse, error) {
	if err := s.coord.Pause(); err != nil {
		return nil, toStatus(err)
	}
	return s.stateResponse(s.coord.State()), nil
}

// Resume resumes a paused transfer.
func (s *Service) Resume(_ context.Context, _ *otahubv1.ResumeRequest) (*otahubv1.StateResponse, error) {
	if err := s.coord.Resume(); err != nil {
		return nil, toStatus(err)
	}
	return s.stateResponse(s.coord.State()), nil
}

// Cancel cancels the transfer and deletes its file.
func (s *Service) Cancel(_ context.Context, _ *otahubv1.CancelRequest) (*otahubv1.StateResponse, error) {
	if err := s.coord.Cancel(); err != nil {
		return nil, toStatus(err)
	}
	return s.stateResponse(s.coord.State()), nil
}

// GetState returns the current state.
func (s *Service) GetState(_ context.Context, _ *otahubv1.GetStateRequest) (*otahubv1.StateResponse, error) {
	return s.stateResponse(s.coord.State()), nil
}

// WatchState streams the current state and every change after it until the
// client goes away or the daemon stops.
func (s *Service) WatchState(_ *otahubv1.WatchStateRequest, stream grpc.ServerStreamingServer[otahubv1.StateResponse]) error {
	sub := s.coord.Subscribe()
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.coord.Unsubscribe(sub.ID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			if err := stream.Send(s.stateResponse(st)); err != nil {
				return err
			}
		}
	}
}

// Shutdown asks the daemon to exit after answering.
func (s *Service) Shutdown(_ context.Context, _ *otahubv1.ShutdownRequest) (*otahubv1.ShutdownResponse, error) {
	s.log.Info("shutdown requested")
	if s.opts.OnShutdown != nil {
		go s.opts.OnShutdown()
	}
	return &otahubv1.ShutdownResponse{Success: true}, nil
}

func (s *Service) stateResponse(st coordinator.UiState) *otahubv1.StateResponse {
	resp := &otahubv1.StateResponse{
		State:          st,
		Transfer:       s.coord.TransferStatus(),
		Device:         s.opts.Device,
		DaemonVersion:  s.opts.Version,
		AndroidVersion: s.opts.AndroidVersion,
		SecurityPatch:  s.opts.SecurityPatch,
	}

	at, ok, err := s.coord.LastCheck()
	if err != nil {
		s.log.Warn("reading last check", "error", err)
	}
	resp.SetLastCheck(at, ok)
	return resp
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	var fetchErr *manifest.FetchError

	switch {
	case errors.Is(err, coordinator.ErrBusy),
		errors.Is(err, coordinator.ErrNoUpdate),
		errors.Is(err, coordinator.ErrInvalidEntry),
		errors.Is(err, coordinator.ErrDownloaded),
		errors.Is(err, transfer.ErrTransferActive),
		errors.Is(err, transfer.ErrNoTransfer),
		errors.Is(err, transfer.ErrNotPaused):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, coordinator.ErrUnknownFile):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, diskspace.ErrInsufficientSpace):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.As(err, &fetchErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
