package recording

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTracks is returned when a recording is started from a media source
	// that exposes zero tracks, typically because device permissions were denied.
	ErrNoTracks = errors.New("media source has no tracks")

	// ErrNoActiveCapture is returned by Finalize when no capture is running.
	ErrNoActiveCapture = errors.New("no active capture")

	// ErrSessionActive is returned by Start when a session is already active.
	// Exactly one local session may be active at a time.
	ErrSessionActive = errors.New("recording session already active")

	// ErrSessionNotActive is returned by Stop when there is nothing to stop.
	ErrSessionNotActive = errors.New("no active recording session")
)

// ConflictError indicates the session registry already has an open session for
// the room. It is a distinct type (rather than a message to be parsed) so the
// caller can offer the cleanup remediation.
type ConflictError struct {
	RoomID  string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("recording conflict for room %s: %s", e.RoomID, e.Message)
	}
	return fmt.Sprintf("recording conflict for room %s: a recording is already in progress", e.RoomID)
}

// NetworkError wraps a transient failure talking to the session registry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("registry %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UploadError indicates the finalized payload could not be submitted. The
// buffered media has already been released at this point, so the operation is
// not retried automatically.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("recording upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
