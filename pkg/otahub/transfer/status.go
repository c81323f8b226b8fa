// Package transfer downloads a single file over HTTP with pause, resume, and
// cancel support, publishing its status as a latest-value broadcast.
package transfer

import (
	"fmt"
	"strings"
)

// State is the phase of a transfer.
type State int

// Transfer states.
const (
	Idle State = iota
	Preparing
	Downloading
	Paused
	Completed
	Failed
	Cancelled
)

var stateNames = [...]string{
	Idle:        "idle",
	Preparing:   "preparing",
	Downloading: "downloading",
	Paused:      "paused",
	Completed:   "completed",
	Failed:      "failed",
	Cancelled:   "cancelled",
}

// String returns the string representation of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown transfer state %q", text)
}

// ProgressIndeterminate is reported while the total length is unknown.
const ProgressIndeterminate = -1

// Status is a snapshot of the transfer. Which fields are meaningful depends
// on State:
//   - Downloading: Progress, Downloaded, Total
//   - Paused: URL and Path to resume from
//   - Completed: Path of the finished file
//   - Failed: Reason
type Status struct {
	State      State  `json:"state"`
	ID         string `json:"id,omitempty"`
	Progress   int    `json:"progress"`
	Downloaded int64  `json:"downloaded"`
	Total      int64  `json:"total"` // -1 when unknown
	URL        string `json:"url,omitempty"`
	Path       string `json:"path,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// Seq increases with every status an Engine publishes, so observers can
	// tell a stale status from a newer one.
	Seq uint64 `json:"-"`
}

// Active reports whether a request is in flight.
func (s Status) Active() bool {
	return s.State == Preparing || s.State == Downloading
}

// Busy reports whether the transfer holds its identity: in flight or paused.
func (s Status) Busy() bool {
	return s.Active() || s.State == Paused
}

// percent computes the integer progress of done bytes out of total.
func percent(done, total int64) int {
	if total <= 0 {
		return ProgressIndeterminate
	}
	p := done * 100 / total
	if p > 100 {
		p = 100
	}
	return int(p)
}
