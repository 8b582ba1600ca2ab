package recording

import (
	"sort"
	"sync"
)

// ParticipantTracker maintains the set of participant identities seen during
// an active recording session. It is fed from room roster callbacks and holds
// no polling logic of its own. Additions are never retracted: a participant
// who joins and leaves mid-session still appears in the final set.
type ParticipantTracker struct {
	mu     sync.Mutex
	active bool
	ids    map[string]struct{}
}

// NewParticipantTracker creates an inactive tracker.
func NewParticipantTracker() *ParticipantTracker {
	return &ParticipantTracker{ids: make(map[string]struct{})}
}

// Begin clears the set and starts accepting observations.
func (t *ParticipantTracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.ids = make(map[string]struct{})
}

// Observe adds a participant to the current session's set. It is idempotent
// and a no-op while no session is active.
func (t *ParticipantTracker) Observe(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.ids[id] = struct{}{}
}

// Count returns the number of distinct participants observed so far.
func (t *ParticipantTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// End freezes the set, stops accepting observations, and returns the final
// participant list in sorted order. End is called only after already-buffered
// roster events have been delivered, so observations arriving between the
// stop request and finalize completion are still included.
func (t *ParticipantTracker) End() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
