// Package rtc binds a LiveKit room to the recording core: roster callbacks
// feed the participant tracker, the data channel carries status broadcasts,
// and subscribed remote tracks are exposed as a capture media source.
package rtc

import (
	"errors"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/saklain-mustaque/video-connect-sub001/pkg/recording"
)

// RoomSender publishes recording status payloads to all peers over the room's
// reliable data channel. It is created before the room connection exists (the
// room callback needs it) and bound to the room once connected.
type RoomSender struct {
	mu   sync.Mutex
	room *lksdk.Room
}

// NewRoomSender creates an unbound sender.
func NewRoomSender() *RoomSender {
	return &RoomSender{}
}

// Bind attaches the sender to a connected room.
func (s *RoomSender) Bind(room *lksdk.Room) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// SendData implements recording.DataSender.
func (s *RoomSender) SendData(payload []byte) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return errors.New("room not connected")
	}
	return room.LocalParticipant.PublishData(payload, lksdk.WithDataPublishReliable(true))
}

// Binding wires room callbacks into the recording core.
type Binding struct {
	tracker     *recording.ParticipantTracker
	broadcaster *recording.StatusBroadcaster
	source      *TrackSource
	logger      *zap.Logger
}

// NewBinding creates a binding delivering roster events to tracker, inbound
// data-channel payloads to broadcaster, and subscribed tracks to source.
func NewBinding(tracker *recording.ParticipantTracker, broadcaster *recording.StatusBroadcaster, source *TrackSource, logger *zap.Logger) *Binding {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding{
		tracker:     tracker,
		broadcaster: broadcaster,
		source:      source,
		logger:      logger,
	}
}

// Callback returns the room callback set to pass to lksdk.ConnectToRoom.
func (b *Binding) Callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			b.logger.Debug("participant connected", zap.String("identity", p.Identity()))
			b.tracker.Observe(p.Identity())
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			// Additions are never retracted: a participant who leaves
			// mid-session stays in the final set.
			b.logger.Debug("participant disconnected", zap.String("identity", p.Identity()))
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if err := publication.SetSubscribed(true); err != nil {
					b.logger.Warn("subscribing to track",
						zap.String("sid", publication.SID()),
						zap.Error(err))
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				b.logger.Info("track subscribed",
					zap.String("sid", publication.SID()),
					zap.String("identity", rp.Identity()))
				b.tracker.Observe(rp.Identity())
				b.source.AddTrack(track, publication.SID())
			},
			OnTrackUnpublished: func(publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				b.source.RemoveTrack(publication.SID())
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				proto := data.ToProto()
				if proto == nil {
					return
				}
				if payload := proto.GetUser().GetPayload(); len(payload) > 0 {
					b.broadcaster.OnReceive(payload)
				}
			},
		},
	}
}

// SeedRoster observes every participant already connected to the room. Called
// right after a session starts so the set includes peers who joined before
// the recorder.
func (b *Binding) SeedRoster(room *lksdk.Room) {
	for _, p := range room.GetRemoteParticipants() {
		b.tracker.Observe(p.Identity())
	}
}
