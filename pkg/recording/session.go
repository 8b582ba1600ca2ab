// Package recording implements the client-side recording core for a
// LiveKit-backed conferencing deployment: local media capture, a
// server-confirmed session lifecycle against a remote session registry,
// participant tracking, cross-participant status broadcast over the room data
// channel, and recovery from stale server-side session state.
package recording

import "time"

// State represents the lifecycle state of a recording session.
type State int

const (
	// StateIdle means no session exists; Start is accepted.
	StateIdle State = iota
	// StateOpening means the registry open call is in flight.
	StateOpening
	// StateActive means capture is running and segments are accumulating.
	StateActive
	// StateFinalizing means capture is being stopped and concatenated.
	StateFinalizing
	// StateUploading means the finalized payload is being submitted.
	StateUploading
	// StateClosed means the session completed; it resets to idle immediately.
	// Failures do not get their own state: every error edge resolves back to
	// idle and the error rides on an EventError.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateUploading:
		return "uploading"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of the recording session, published to
// event subscribers on every transition.
type Session struct {
	// ID is the registry-issued session identifier. Empty until the registry
	// open call succeeds.
	ID string

	// RoomID, RoomCode and RoomName identify the hosting room. They are set at
	// open time and do not change for the session's lifetime.
	RoomID   string
	RoomCode string
	RoomName string

	// State is the current lifecycle state.
	State State

	// StartedAt is the local wall-clock time capture began. It is used only
	// for elapsed-time display, not for server-authoritative duration.
	StartedAt time.Time
}

// EventType identifies the kind of coordinator event.
type EventType string

const (
	// EventStateChanged fires on every session state transition.
	EventStateChanged EventType = "state_changed"
	// EventElapsed fires once per second while a session is active.
	EventElapsed EventType = "elapsed"
	// EventRemoteStarted fires when a peer announces it started recording.
	EventRemoteStarted EventType = "remote_started"
	// EventRemoteStopped fires when a peer announces it stopped recording.
	EventRemoteStopped EventType = "remote_stopped"
	// EventError fires when a session operation fails.
	EventError EventType = "error"
)

// Event is delivered to coordinator subscribers. The core emits events
// explicitly instead of relying on a UI re-render cycle.
type Event struct {
	Type      EventType
	Session   Session
	Elapsed   time.Duration
	UserName  string
	Err       error
	Timestamp time.Time
}

// EventHandler receives coordinator events. Handlers are invoked synchronously
// and must not block.
type EventHandler func(Event)
