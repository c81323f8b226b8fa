package otahubv1

import (
	"time"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// CheckRequest asks the daemon to fetch the manifest now.
type CheckRequest struct{}

// StartDownloadRequest starts a download. An empty Filename selects the
// update found by the last check.
type StartDownloadRequest struct {
	Filename string `json:"filename,omitempty"`
}

// PauseRequest pauses the running transfer.
type PauseRequest struct{}

// ResumeRequest resumes a paused transfer.
type ResumeRequest struct{}

// CancelRequest cancels the transfer and deletes its file.
type CancelRequest struct{}

// GetStateRequest asks for the current state.
type GetStateRequest struct{}

// WatchStateRequest subscribes to state changes.
type WatchStateRequest struct{}

// ShutdownRequest asks the daemon to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a ShutdownRequest.
type ShutdownResponse struct {
	Success bool `json:"success"`
}

// StateResponse carries the daemon's view of the update state. Every call
// that changes state answers with one.
type StateResponse struct {
	State    coordinator.UiState `json:"state"`
	Transfer transfer.Status     `json:"transfer"`

	// LastCheckMillis is the last successful check in epoch milliseconds,
	// zero when no check has succeeded yet.
	LastCheckMillis int64 `json:"last_check_ms,omitempty"`

	Device        string `json:"device,omitempty"`
	DaemonVersion string `json:"daemon_version,omitempty"`

	// Installed system.
	AndroidVersion string `json:"android_version,omitempty"`
	SecurityPatch  string `json:"security_patch,omitempty"`
}

// LastCheck returns the last successful check and whether there was one.
func (r *StateResponse) LastCheck() (time.Time, bool) {
	if r == nil || r.LastCheckMillis == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(r.LastCheckMillis), true
}

// SetLastCheck stores t, or clears it when ok is false.
func (r *StateResponse) SetLastCheck(t time.Time, ok bool) {
	if !ok {
		r.LastCheckMillis = 0
		return
	}
	r.LastCheckMillis = t.UnixMilli()
}
