package recording

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistryClientOpen tests the open request and response decoding
func TestRegistryClientOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/recordings/start", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "room-1", req["roomId"])
		assert.Equal(t, "ABC123", req["roomCode"])
		assert.Equal(t, "Standup", req["roomName"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"recordingId": "r123"})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	id, err := client.Open(context.Background(), "room-1", "ABC123", "Standup")
	require.NoError(t, err)
	assert.Equal(t, "r123", id)
}

// TestRegistryClientOpenConflict tests that a 409 maps to a typed
// ConflictError carrying the server's message
func TestRegistryClientOpenConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "Recording already in progress for this room"})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	_, err := client.Open(context.Background(), "room-1", "", "")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "room-1", conflict.RoomID)
	assert.Contains(t, conflict.Message, "already in progress")
}

// TestRegistryClientOpenServerError tests that non-conflict failures surface
// as NetworkError
func TestRegistryClientOpenServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	_, err := client.Open(context.Background(), "room-1", "", "")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "open", netErr.Op)
}

// TestRegistryClientOpenUnreachable tests transport-level failures
func TestRegistryClientOpenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewRegistryClient(server.URL)
	_, err := client.Open(context.Background(), "room-1", "", "")

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

// TestRegistryClientClose tests the stop request carries whole seconds
func TestRegistryClientClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/recordings/r123/stop", r.URL.Path)

		var req map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 7, req["duration"])

		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	err := client.Close(context.Background(), "r123", 7*time.Second+200*time.Millisecond)
	assert.NoError(t, err)
}

// TestRegistryClientUpload tests the multipart submission of payload and
// participant set
func TestRegistryClientUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/recordings/r123/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))

		file, header, err := r.FormFile("video")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.webm", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "media-bytes", string(data))

		var participants []string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("participants")), &participants))
		assert.Equal(t, []string{"alice", "bob"}, participants)

		json.NewEncoder(w).Encode(map[string]int64{"fileSize": 204800})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	result, err := client.Upload(context.Background(), "r123",
		Payload{Data: []byte("media-bytes"), MimeType: "video/webm"},
		[]string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(204800), result.FileSize)
}

// TestRegistryClientUploadFailure tests that upload failures surface as
// UploadError
func TestRegistryClientUploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	_, err := client.Upload(context.Background(), "r123", Payload{Data: []byte("x")}, nil)

	var uploadErr *UploadError
	assert.ErrorAs(t, err, &uploadErr)
}

// TestRegistryClientCleanup tests the remediation endpoint
func TestRegistryClientCleanup(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/api/recordings/cleanup/room-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"message": "stale recording state cleared"})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	require.NoError(t, client.Cleanup(context.Background(), "room-1"))
	assert.True(t, called)
}

// TestRegistryClientAuthToken tests that a configured bearer token is sent
func TestRegistryClientAuthToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL, WithAuthToken("tok-1"))
	require.NoError(t, client.Cleanup(context.Background(), "room-1"))
}
