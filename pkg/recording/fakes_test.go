package recording

import (
	"context"
	"io"
	"sync"
	"time"
)

// fakeSource is an in-memory MediaSource for tests.
type fakeSource struct {
	mu     sync.Mutex
	tracks []TrackInfo
	chunks chan []byte
	closed bool
}

func newFakeSource(tracks ...TrackInfo) *fakeSource {
	return &fakeSource{
		tracks: tracks,
		chunks: make(chan []byte, 64),
	}
}

func videoSource() *fakeSource {
	return newFakeSource(TrackInfo{Kind: "video", MimeType: "video/VP8"})
}

func (s *fakeSource) push(data []byte) {
	s.chunks <- data
}

func (s *fakeSource) Tracks() []TrackInfo {
	return s.tracks
}

func (s *fakeSource) ReadChunk(ctx context.Context) ([]byte, error) {
	// Buffered chunks win over cancellation, matching the MediaSource
	// contract for the stop boundary.
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	default:
	}
	select {
	case <-ctx.Done():
		// A chunk buffered before the cancel still wins.
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return nil, io.EOF
			}
			return chunk, nil
		default:
		}
		return nil, ctx.Err()
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeRegistry is an in-memory SessionRegistry recording every call.
type fakeRegistry struct {
	mu    sync.Mutex
	calls []string

	openID   string
	openErrs []error

	closeErr      error
	closeDuration time.Duration

	uploadResult       UploadResult
	uploadErr          error
	uploadPayload      Payload
	uploadParticipants []string

	cleanupErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{openID: "r123"}
}

func (r *fakeRegistry) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeRegistry) callCount(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *fakeRegistry) Open(ctx context.Context, roomID, roomCode, roomName string) (string, error) {
	r.record("open")
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.openErrs) > 0 {
		err := r.openErrs[0]
		r.openErrs = r.openErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return r.openID, nil
}

func (r *fakeRegistry) Close(ctx context.Context, sessionID string, duration time.Duration) error {
	r.record("close")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeDuration = duration
	return r.closeErr
}

func (r *fakeRegistry) Upload(ctx context.Context, sessionID string, payload Payload, participantIDs []string) (UploadResult, error) {
	r.record("upload")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadErr != nil {
		return UploadResult{}, r.uploadErr
	}
	r.uploadPayload = payload
	r.uploadParticipants = participantIDs
	return r.uploadResult, nil
}

func (r *fakeRegistry) Cleanup(ctx context.Context, roomID string) error {
	r.record("cleanup")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupErr
}

// fakeSender captures broadcast payloads.
type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *fakeSender) SendData(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
