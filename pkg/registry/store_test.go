package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestStoreOpenSession tests opening a session and reading it back
func TestStoreOpenSession(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.OpenSession("room-1", "ABC123", "Standup")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, SessionOpen, rec.Status)
	assert.Equal(t, "room-1", rec.RoomID)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

// TestStoreOneOpenSessionPerRoom tests the conflict invariant
func TestStoreOneOpenSessionPerRoom(t *testing.T) {
	store := newTestStore(t)

	_, err := store.OpenSession("room-1", "", "")
	require.NoError(t, err)

	_, err = store.OpenSession("room-1", "", "")
	assert.ErrorIs(t, err, ErrSessionOpen)

	// Other rooms are unaffected.
	_, err = store.OpenSession("room-2", "", "")
	assert.NoError(t, err)
}

// TestStoreStopFreesRoom tests that stopping a session allows a new one
func TestStoreStopFreesRoom(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.OpenSession("room-1", "", "")
	require.NoError(t, err)

	stopped, err := store.StopSession(rec.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, SessionStopped, stopped.Status)
	assert.Equal(t, 42, stopped.Duration)

	_, err = store.OpenSession("room-1", "", "")
	assert.NoError(t, err)
}

// TestStoreAttachUpload tests recording the uploaded payload metadata
func TestStoreAttachUpload(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.OpenSession("room-1", "", "")
	require.NoError(t, err)
	_, err = store.StopSession(rec.ID, 7)
	require.NoError(t, err)

	updated, err := store.AttachUpload(rec.ID, 204800, "/spool/x.webm", []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, SessionUploaded, updated.Status)
	assert.Equal(t, int64(204800), updated.FileSize)
	assert.Equal(t, []string{"alice", "bob"}, updated.Participants)
}

// TestStoreCleanupRoom tests that cleanup force-clears an open session
func TestStoreCleanupRoom(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.OpenSession("room-1", "", "")
	require.NoError(t, err)

	cleared, err := store.CleanupRoom("room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	_, err = store.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The room is free again.
	_, err = store.OpenSession("room-1", "", "")
	assert.NoError(t, err)
}

// TestStoreCleanupRoomIdempotent tests cleanup on a room with no state
func TestStoreCleanupRoomIdempotent(t *testing.T) {
	store := newTestStore(t)

	cleared, err := store.CleanupRoom("room-1")
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

// TestStoreUnknownSession tests lookups and updates on unknown ids
func TestStoreUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.StopSession("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.AttachUpload("nope", 1, "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
