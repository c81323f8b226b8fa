package transfer

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Engine control methods.
var (
	ErrTransferActive = errors.New("a transfer is already in progress")
	ErrNoTransfer     = errors.New("no transfer in progress")
	ErrNotPaused      = errors.New("transfer is not paused")
)

// Causes attached to the job context by control methods.
var (
	errPaused    = errors.New("transfer paused")
	errCancelled = errors.New("transfer cancelled")
)

// ErrorKind classifies a transfer failure.
type ErrorKind int

const (
	// KindNetwork covers connection errors, non-2xx responses, and truncated bodies.
	KindNetwork ErrorKind = iota
	// KindIO covers local file errors.
	KindIO
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// TransferError is the error that moved a transfer to Failed.
type TransferError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func networkErr(format string, args ...interface{}) error {
	return &TransferError{Kind: KindNetwork, Err: fmt.Errorf(format, args...)}
}

func ioErr(format string, args ...interface{}) error {
	return &TransferError{Kind: KindIO, Err: fmt.Errorf(format, args...)}
}
