package torrent

import (
	"errors"
	"fmt"
)

// ErrTorrentNotFound is returned when there is no torrent with the given ID in the session.
var ErrTorrentNotFound = errors.New("torrent not found")

// IllegalStateError is returned from operator commands that are not allowed in the current state.
// The state of the torrent is not changed.
type IllegalStateError struct {
	Op    string
	State State
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s torrent in %s state", e.Op, e.State)
}

// DiskError wraps the disk fault that moved a torrent to DiskProblem state.
type DiskError struct {
	TorrentID string
	err       error
}

func (e *DiskError) Error() string {
	return "disk problem in torrent " + e.TorrentID + ": " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *DiskError) Unwrap() error {
	return e.err
}

// InputError is returned from Session.AddTorrent when there is problem with the input.
type InputError struct {
	err error
}

func newInputError(err error) *InputError {
	return &InputError{
		err: err,
	}
}

// Error implements error interface.
func (e *InputError) Error() string {
	return "input error: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.err
}
