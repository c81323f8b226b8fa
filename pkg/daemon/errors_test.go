package daemon

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/diskspace"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{coordinator.ErrBusy, codes.FailedPrecondition},
		{coordinator.ErrNoUpdate, codes.FailedPrecondition},
		{coordinator.ErrDownloaded, codes.FailedPrecondition},
		{transfer.ErrTransferActive, codes.FailedPrecondition},
		{transfer.ErrNoTransfer, codes.FailedPrecondition},
		{transfer.ErrNotPaused, codes.FailedPrecondition},
		{fmt.Errorf("%w: x.zip", coordinator.ErrUnknownFile), codes.NotFound},
		{fmt.Errorf("%w: need 2 GiB", diskspace.ErrInsufficientSpace), codes.ResourceExhausted},
		{fmt.Errorf("checking for update: %w", &manifest.FetchError{Kind: manifest.FetchNetwork, Err: errors.New("refused")}), codes.Unavailable},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := status.Code(toStatus(tt.err))
			if got != tt.want {
				t.Errorf("toStatus(%v) code = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
