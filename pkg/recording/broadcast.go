package recording

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusMessageType is the fixed discriminator of recording status messages on
// the room data channel.
const StatusMessageType = "recording_status"

// Status is the announced recording status.
type Status string

const (
	// StatusStarted announces that the sender began recording.
	StatusStarted Status = "started"
	// StatusStopped announces that the sender stopped recording.
	StatusStopped Status = "stopped"
)

// StatusEvent is the wire message broadcast to all peers when recording starts
// or stops. It is transient: a pure notification, never persisted.
type StatusEvent struct {
	Type      string `json:"type"`
	Status    Status `json:"status"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// DataSender publishes a payload to all connected peers over a reliable
// channel. The LiveKit adapter backs this with LocalParticipant.PublishData.
type DataSender interface {
	SendData(payload []byte) error
}

// RemoteState is the advisory "someone else is recording" display state
// derived from received status events. It never affects the local session.
type RemoteState struct {
	Active   bool
	UserName string
}

// RemoteStateHandler is notified when the remote recording display state
// changes.
type RemoteStateHandler func(RemoteState)

// StatusBroadcaster publishes start/stop session-status events to peers and
// consumes the same events from peers. Sending is best-effort and never blocks
// or fails the local recording action; malformed inbound payloads are logged
// and discarded. Events set absolute display state, so duplicates and
// out-of-order delivery are tolerated.
type StatusBroadcaster struct {
	mu sync.Mutex

	sender  DataSender
	logger  *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time

	remote   RemoteState
	lastSeen string
	handlers []RemoteStateHandler

	sent     uint64
	received uint64
	dropped  uint64
}

// BroadcastOption configures a StatusBroadcaster.
type BroadcastOption func(*StatusBroadcaster)

// WithBroadcastLimit overrides the announcement send throttle.
func WithBroadcastLimit(limit rate.Limit, burst int) BroadcastOption {
	return func(b *StatusBroadcaster) {
		b.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithBroadcastClock overrides the timestamp source.
func WithBroadcastClock(now func() time.Time) BroadcastOption {
	return func(b *StatusBroadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// NewStatusBroadcaster creates a broadcaster publishing through sender.
func NewStatusBroadcaster(sender DataSender, logger *zap.Logger, opts ...BroadcastOption) *StatusBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &StatusBroadcaster{
		sender: sender,
		logger: logger,
		// Status changes are rare; the throttle only guards against a
		// misbehaving caller flooding the data channel.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Announce serializes a status event and sends it to all connected peers.
// Failures are logged and swallowed.
func (b *StatusBroadcaster) Announce(status Status, userName, roomID string) {
	event := StatusEvent{
		Type:      StatusMessageType,
		Status:    status,
		UserName:  userName,
		Timestamp: b.now().UnixMilli(),
		RoomID:    roomID,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("marshaling status event", zap.Error(err))
		return
	}

	if !b.limiter.Allow() {
		b.logger.Warn("status announcement throttled",
			zap.String("status", string(status)))
		return
	}

	if err := b.sender.SendData(payload); err != nil {
		b.logger.Warn("broadcasting recording status",
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	b.sent++
	b.mu.Unlock()

	b.logger.Debug("recording status announced",
		zap.String("status", string(status)),
		zap.String("roomId", roomID))
}

// OnReceive decodes an inbound data-channel payload. Malformed payloads are
// discarded with a logged diagnostic. A valid started event sets remote-active
// display state with the announcer's name; stopped clears it. Duplicate
// started events (same sender, same timestamp) do not re-notify subscribers.
func (b *StatusBroadcaster) OnReceive(raw []byte) {
	var event StatusEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Debug("discarding malformed status payload", zap.Error(err))
		return
	}
	if event.Type != StatusMessageType ||
		(event.Status != StatusStarted && event.Status != StatusStopped) {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Debug("discarding unrecognized status payload",
			zap.String("type", event.Type),
			zap.String("status", string(event.Status)))
		return
	}

	b.mu.Lock()
	b.received++

	key := fmt.Sprintf("%s/%s/%d", event.Status, event.UserName, event.Timestamp)
	if key == b.lastSeen {
		b.mu.Unlock()
		return
	}
	b.lastSeen = key

	switch event.Status {
	case StatusStarted:
		b.remote = RemoteState{Active: true, UserName: event.UserName}
	case StatusStopped:
		b.remote = RemoteState{}
	}
	state := b.remote
	handlers := make([]RemoteStateHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	b.logger.Info("peer recording status",
		zap.String("status", string(event.Status)),
		zap.String("userName", event.UserName),
		zap.String("roomId", event.RoomID))

	for _, h := range handlers {
		h(state)
	}
}

// Remote returns the current remote recording display state.
func (b *StatusBroadcaster) Remote() RemoteState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remote
}

// Subscribe registers a handler for remote display state changes.
func (b *StatusBroadcaster) Subscribe(h RemoteStateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Stats returns sent, received and dropped message counts.
func (b *StatusBroadcaster) Stats() (sent, received, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.received, b.dropped
}
