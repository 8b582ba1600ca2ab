// Package registry implements the session-registry service: the HTTP surface
// the recording core consumes, backed by an embedded store that enforces at
// most one open recording session per room.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrSessionOpen is returned when a room already has an open session.
	ErrSessionOpen = errors.New("recording already in progress for room")

	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("recording session not found")
)

// Session status values stored with each record.
const (
	SessionOpen     = "open"
	SessionStopped  = "stopped"
	SessionUploaded = "uploaded"
)

// SessionRecord is the registry's view of one recording session.
type SessionRecord struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	RoomCode     string    `json:"roomCode"`
	RoomName     string    `json:"roomName"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	Duration     int       `json:"duration"`
	FileSize     int64     `json:"fileSize"`
	FilePath     string    `json:"filePath"`
	Participants []string  `json:"participants"`
}

// Store persists session records in Badger.
//
// Keys:
//   - "sess:<id>"    JSON SessionRecord
//   - "room:<room>"  id of the room's currently open session
type Store struct {
	db *badger.DB
}

// OpenStore opens a store at path. An empty path opens an in-memory store,
// used by tests.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// OpenSession creates a new open session for the room. It fails with
// ErrSessionOpen when the room already has one.
func (s *Store) OpenSession(roomID, roomCode, roomName string) (SessionRecord, error) {
	rec := SessionRecord{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		RoomCode:  roomCode,
		RoomName:  roomName,
		Status:    SessionOpen,
		StartedAt: time.Now().UTC(),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		roomKey := []byte("room:" + roomID)
		if _, err := txn.Get(roomKey); err == nil {
			return ErrSessionOpen
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err = txn.Set([]byte("sess:"+rec.ID), buf); err != nil {
			return err
		}
		return txn.Set(roomKey, []byte(rec.ID))
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// StopSession marks the session stopped with the reported duration and frees
// the room for a new session.
func (s *Store) StopSession(id string, duration int) (SessionRecord, error) {
	return s.update(id, func(rec *SessionRecord, txn *badger.Txn) error {
		rec.Status = SessionStopped
		rec.Duration = duration
		return txn.Delete([]byte("room:" + rec.RoomID))
	})
}

// AttachUpload records the uploaded payload's size, archive path and final
// participant set.
func (s *Store) AttachUpload(id string, size int64, path string, participants []string) (SessionRecord, error) {
	return s.update(id, func(rec *SessionRecord, txn *badger.Txn) error {
		rec.Status = SessionUploaded
		rec.FileSize = size
		rec.FilePath = path
		rec.Participants = participants
		return nil
	})
}

// Get returns a session record by id.
func (s *Store) Get(id string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("sess:" + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// CleanupRoom forcibly clears any open session record for the room,
// regardless of its state. It returns the number of records cleared and is
// the remediation behind the conflict-recovery flow.
func (s *Store) CleanupRoom(roomID string) (int, error) {
	cleared := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		roomKey := []byte("room:" + roomID)
		item, err := txn.Get(roomKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		var id string
		if err = item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}

		if err = txn.Delete([]byte("sess:" + id)); err != nil {
			return err
		}
		if err = txn.Delete(roomKey); err != nil {
			return err
		}
		cleared = 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

func (s *Store) update(id string, fn func(*SessionRecord, *badger.Txn) error) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte("sess:" + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		if err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if err = fn(&rec, txn); err != nil {
			return err
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}
