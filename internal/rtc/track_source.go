package rtc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/saklain-mustaque/video-connect-sub001/pkg/recording"
)

// TrackSource exposes the room's subscribed remote tracks as a
// recording.MediaSource. Each track gets a reader goroutine pumping RTP
// payloads into a shared chunk channel; the capture controller slices that
// stream into one-second segments.
type TrackSource struct {
	mu     sync.Mutex
	logger *zap.Logger

	tracks map[string]recording.TrackInfo
	stops  map[string]chan struct{}
	chunks chan []byte
	done   chan struct{}
	closed bool
}

// NewTrackSource creates an empty track source.
func NewTrackSource(logger *zap.Logger) *TrackSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackSource{
		logger: logger,
		tracks: make(map[string]recording.TrackInfo),
		stops:  make(map[string]chan struct{}),
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// AddTrack starts pumping a subscribed track into the source.
func (s *TrackSource) AddTrack(track *webrtc.TrackRemote, sid string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.stops[sid]; exists {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stops[sid] = stop
	s.tracks[sid] = recording.TrackInfo{
		Kind:     track.Kind().String(),
		MimeType: track.Codec().MimeType,
	}
	s.mu.Unlock()

	go s.pump(track, sid, stop)
}

// RemoveTrack stops pumping the track. Its info stays registered so a capture
// in progress keeps its format selection.
func (s *TrackSource) RemoveTrack(sid string) {
	s.mu.Lock()
	if stop, exists := s.stops[sid]; exists {
		close(stop)
		delete(s.stops, sid)
	}
	s.mu.Unlock()
}

// Tracks implements recording.MediaSource.
func (s *TrackSource) Tracks() []recording.TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recording.TrackInfo, 0, len(s.tracks))
	for _, info := range s.tracks {
		out = append(out, info)
	}
	return out
}

// ReadChunk implements recording.MediaSource. Chunks already pumped into the
// buffer are delivered before cancellation or close is reported, so the tail
// of a recording is not lost when the capture stops.
func (s *TrackSource) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	default:
	}
	select {
	case <-ctx.Done():
		// A chunk buffered before the cancel still wins.
		select {
		case chunk := <-s.chunks:
			return chunk, nil
		default:
		}
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case chunk := <-s.chunks:
		return chunk, nil
	}
}

// Close implements recording.MediaSource. It stops all track readers; the
// source must not be reused afterwards.
func (s *TrackSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	for sid, stop := range s.stops {
		close(stop)
		delete(s.stops, sid)
	}
	return nil
}

func (s *TrackSource) pump(track *webrtc.TrackRemote, sid string, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.done:
			return
		default:
		}

		// Bound the read so a stopped pump exits even while the track is
		// still open and silent.
		_ = track.SetReadDeadline(time.Now().Add(time.Second))
		packet, _, err := track.ReadRTP()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Debug("track read ended",
				zap.String("sid", sid),
				zap.Error(err))
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}

		select {
		case s.chunks <- packet.Payload:
		case <-stop:
			return
		case <-s.done:
			return
		}
	}
}
