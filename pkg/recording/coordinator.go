package recording

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StopResult reports the outcome of a completed stop sequence.
type StopResult struct {
	// Upload is the registry's upload response.
	Upload UploadResult
	// Duration is the locally measured recording duration.
	Duration time.Duration
	// Participants is the final participant set submitted with the upload.
	Participants []string
	// CloseErr is the registry close failure, if any. Close is best-effort:
	// a failure is surfaced here but never blocks the rest of the sequence.
	CloseErr error
}

// Coordinator drives the recording session state machine:
//
//	idle -> opening -> active -> finalizing -> uploading -> closed -> idle
//
// A conflict or network failure during opening returns to idle, as does an
// upload failure (with the media discarded). No path re-enters active except
// a fresh Start. The session state is the single source of truth consulted
// synchronously before accepting a new Start or Stop, so overlapping network
// calls can never double-open or double-close a session.
type Coordinator struct {
	mu sync.Mutex

	logger      *zap.Logger
	capture     *CaptureController
	registry    SessionRegistry
	tracker     *ParticipantTracker
	broadcaster *StatusBroadcaster
	userName    string
	now         func() time.Time
	tick        time.Duration

	state      State
	session    Session
	tickerStop chan struct{}
	handlers   []EventHandler
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the coordinator's time source.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithElapsedInterval overrides the elapsed-time event cadence.
func WithElapsedInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.tick = d
		}
	}
}

// NewCoordinator creates a coordinator for one local client. userName is the
// display name announced to peers with status events.
func NewCoordinator(capture *CaptureController, registry SessionRegistry, tracker *ParticipantTracker, broadcaster *StatusBroadcaster, userName string, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:      logger,
		capture:     capture,
		registry:    registry,
		tracker:     tracker,
		broadcaster: broadcaster,
		userName:    userName,
		now:         time.Now,
		tick:        time.Second,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Peer status events are advisory display state only; they are forwarded
	// to subscribers and never touch the local session.
	broadcaster.Subscribe(func(state RemoteState) {
		eventType := EventRemoteStopped
		if state.Active {
			eventType = EventRemoteStarted
		}
		c.emit(Event{
			Type:     eventType,
			UserName: state.UserName,
		})
	})

	return c
}

// Subscribe registers an event handler for session transitions, elapsed
// ticks, peer status changes and errors.
func (c *Coordinator) Subscribe(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current session snapshot.
func (c *Coordinator) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Remote returns the advisory "someone else is recording" display state.
func (c *Coordinator) Remote() RemoteState {
	return c.broadcaster.Remote()
}

// ObserveParticipant feeds a roster event into the current session, if any.
func (c *Coordinator) ObserveParticipant(id string) {
	c.tracker.Observe(id)
}

// Start opens a session with the registry and begins capturing from source.
// It rejects synchronously with ErrSessionActive unless the session is idle,
// and with ErrNoTracks (before any network call) when the source has no
// tracks. A *ConflictError from the registry is returned as-is so the caller
// can offer the ResolveConflict remediation; recovery is never automatic.
func (c *Coordinator) Start(ctx context.Context, source MediaSource, roomID, roomCode, roomName string) error {
	if len(source.Tracks()) == 0 {
		return ErrNoTracks
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateOpening
	c.session = Session{
		RoomID:   roomID,
		RoomCode: roomCode,
		RoomName: roomName,
		State:    StateOpening,
	}
	c.mu.Unlock()
	c.emitState()

	sessionID, err := c.registry.Open(ctx, roomID, roomCode, roomName)
	if err != nil {
		c.toIdle()
		c.emit(Event{Type: EventError, Err: err})
		return err
	}

	if err = c.capture.Start(source); err != nil {
		// The registry entry is open but capture never began; close it so the
		// room is not left blocked.
		if closeErr := c.registry.Close(ctx, sessionID, 0); closeErr != nil {
			c.logger.Warn("closing unused session", zap.Error(closeErr))
		}
		c.toIdle()
		c.emit(Event{Type: EventError, Err: err})
		return err
	}

	c.mu.Lock()
	c.state = StateActive
	c.session.ID = sessionID
	c.session.State = StateActive
	c.session.StartedAt = c.now()
	c.tracker.Begin()
	c.tickerStop = make(chan struct{})
	go c.elapsedLoop(c.session.StartedAt, c.tickerStop)
	c.mu.Unlock()

	c.broadcaster.Announce(StatusStarted, c.userName, roomID)
	c.logger.Info("recording started",
		zap.String("sessionId", sessionID),
		zap.String("roomId", roomID))
	c.emitState()
	return nil
}

// Stop finalizes the capture, closes the session with the registry and
// uploads the payload with the final participant set. Close failures are
// surfaced in the result but never block the sequence; an upload failure
// discards the media (it is not re-queued) and returns the session to idle.
func (c *Coordinator) Stop(ctx context.Context) (StopResult, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return StopResult{}, ErrSessionNotActive
	}
	c.state = StateFinalizing
	c.session.State = StateFinalizing
	sess := c.session
	c.stopTickerLocked()
	c.mu.Unlock()
	c.emitState()

	payload, err := c.capture.Finalize()
	if err != nil {
		c.toIdle()
		c.emit(Event{Type: EventError, Err: err})
		return StopResult{}, err
	}
	duration := c.now().Sub(sess.StartedAt)

	closeErr := c.registry.Close(ctx, sess.ID, duration)
	if closeErr != nil {
		c.logger.Warn("closing session",
			zap.String("sessionId", sess.ID),
			zap.Error(closeErr))
	}

	c.mu.Lock()
	c.state = StateUploading
	c.session.State = StateUploading
	c.mu.Unlock()
	c.emitState()

	participants := c.tracker.End()
	result, err := c.registry.Upload(ctx, sess.ID, payload, participants)
	if err != nil {
		c.broadcaster.Announce(StatusStopped, c.userName, sess.RoomID)
		c.toIdle()
		c.emit(Event{Type: EventError, Err: err})
		return StopResult{}, err
	}

	c.mu.Lock()
	c.state = StateClosed
	c.session.State = StateClosed
	c.mu.Unlock()
	c.emitState()

	c.broadcaster.Announce(StatusStopped, c.userName, sess.RoomID)
	c.logger.Info("recording stopped",
		zap.String("sessionId", sess.ID),
		zap.Duration("duration", duration),
		zap.Int64("fileSize", result.FileSize),
		zap.Int("participants", len(participants)))

	c.toIdle()
	return StopResult{
		Upload:       result,
		Duration:     duration,
		Participants: participants,
		CloseErr:     closeErr,
	}, nil
}

// ResolveConflict is the explicit remediation for a *ConflictError from
// Start: it force-clears the server-side session record for the room and
// re-attempts the original start sequence. The caller invokes it only after
// user confirmation, since it destroys another participant's in-progress
// session state.
func (c *Coordinator) ResolveConflict(ctx context.Context, source MediaSource, roomID, roomCode, roomName string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.mu.Unlock()

	if err := c.registry.Cleanup(ctx, roomID); err != nil {
		c.emit(Event{Type: EventError, Err: err})
		return err
	}
	c.logger.Info("stale session cleared, retrying start", zap.String("roomId", roomID))
	return c.Start(ctx, source, roomID, roomCode, roomName)
}

func (c *Coordinator) toIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.session = Session{}
	c.stopTickerLocked()
	c.mu.Unlock()
	c.emitState()
}

func (c *Coordinator) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

// elapsedLoop emits elapsed-time events while the session is active. It is
// torn down on every exit from the active state so no periodic work leaks.
func (c *Coordinator) elapsedLoop(startedAt time.Time, stop chan struct{}) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.emit(Event{Type: EventElapsed, Elapsed: c.now().Sub(startedAt)})
		}
	}
}

func (c *Coordinator) emitState() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	c.emit(Event{Type: EventStateChanged, Session: session})
}

func (c *Coordinator) emit(event Event) {
	c.mu.Lock()
	event.Timestamp = c.now()
	if event.Type != EventStateChanged {
		event.Session = c.session
	}
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}
