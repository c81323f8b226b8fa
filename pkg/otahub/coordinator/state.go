// Package coordinator owns the user-facing update state. It runs manifest
// checks, starts and controls the transfer engine, and maps transfer status
// to a UiState that front ends render.
package coordinator

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
)

// Kind discriminates UiState.
type Kind int

// UiState kinds.
const (
	NoUpdate Kind = iota
	Checking
	UpdateAvailable
	Preparing
	Downloading
	Paused
	Downloaded
	Cancelled
	Error
)

var kindNames = [...]string{
	NoUpdate:        "no_update",
	Checking:        "checking",
	UpdateAvailable: "update_available",
	Preparing:       "preparing",
	Downloading:     "downloading",
	Paused:          "paused",
	Downloaded:      "downloaded",
	Cancelled:       "cancelled",
	Error:           "error",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range kindNames {
		if n == name {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state kind %q", text)
}

// UiState is what a front end shows.
type UiState struct {
	Kind       Kind            `json:"kind"`
	Entry      *manifest.Entry `json:"entry,omitempty"`
	Progress   int             `json:"progress"`
	Downloaded int64           `json:"downloaded"`
	Total      int64           `json:"total"`
	FilePath   string          `json:"file_path,omitempty"`
	Message    string          `json:"message,omitempty"`
}

func entryRef(e manifest.Entry) *manifest.Entry {
	if e.IsZero() {
		return nil
	}
	return &e
}
