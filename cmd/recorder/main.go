// Command recorder is a headless recording bot: it joins a LiveKit room,
// opens a session with the session registry, captures subscribed media until
// interrupted, and uploads the finalized payload with the final participant
// set.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"

	"github.com/saklain-mustaque/video-connect-sub001/internal/rtc"
	"github.com/saklain-mustaque/video-connect-sub001/pkg/recording"
)

type config struct {
	liveKitURL   string
	apiKey       string
	apiSecret    string
	roomID       string
	roomCode     string
	roomName     string
	registryURL  string
	recorderName string
	forceCleanup bool
}

func loadConfig() (config, error) {
	_ = godotenv.Load()

	cfg := config{
		liveKitURL:   os.Getenv("LIVEKIT_URL"),
		apiKey:       os.Getenv("LIVEKIT_API_KEY"),
		apiSecret:    os.Getenv("LIVEKIT_API_SECRET"),
		roomID:       os.Getenv("ROOM_ID"),
		roomCode:     os.Getenv("ROOM_CODE"),
		roomName:     os.Getenv("ROOM_NAME"),
		registryURL:  os.Getenv("REGISTRY_URL"),
		recorderName: os.Getenv("RECORDER_NAME"),
		forceCleanup: parseBool(os.Getenv("FORCE_CLEANUP")),
	}
	if cfg.recorderName == "" {
		cfg.recorderName = "Recorder Bot"
	}
	if cfg.roomID == "" {
		cfg.roomID = cfg.roomName
	}
	if cfg.liveKitURL == "" || cfg.apiKey == "" || cfg.apiSecret == "" || cfg.roomName == "" || cfg.registryURL == "" {
		return config{}, errors.New("LIVEKIT_URL, LIVEKIT_API_KEY, LIVEKIT_API_SECRET, ROOM_NAME and REGISTRY_URL are required")
	}
	return cfg, nil
}

func parseBool(value string) bool {
	v, err := strconv.ParseBool(value)
	return err == nil && v
}

func mintToken(cfg config) (string, error) {
	at := auth.NewAccessToken(cfg.apiKey, cfg.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     cfg.roomName,
	}
	at.AddGrant(grant).
		SetIdentity("recorder-bot").
		SetName(cfg.recorderName).
		SetValidFor(6 * time.Hour)
	return at.ToJWT()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	capture := recording.NewCaptureController(logger)
	registry := recording.NewRegistryClient(cfg.registryURL, recording.WithRegistryLogger(logger))
	tracker := recording.NewParticipantTracker()
	source := rtc.NewTrackSource(logger)

	token, err := mintToken(cfg)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	// The broadcaster needs the room and the room callback needs the
	// broadcaster, so the sender is bound to the room after connecting.
	sender := rtc.NewRoomSender()
	broadcaster := recording.NewStatusBroadcaster(sender, logger)
	binding := rtc.NewBinding(tracker, broadcaster, source, logger)

	room, err := lksdk.ConnectToRoomWithToken(cfg.liveKitURL, token, binding.Callback())
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}
	defer room.Disconnect()
	sender.Bind(room)
	logger.Info("connected to room", zap.String("room", cfg.roomName))

	coordinator := recording.NewCoordinator(capture, registry, tracker, broadcaster, cfg.recorderName, logger)
	coordinator.Subscribe(func(event recording.Event) {
		if event.Type == recording.EventElapsed {
			logger.Debug("recording", zap.Duration("elapsed", event.Elapsed))
		}
	})

	ctx := context.Background()

	// Give initial track subscriptions a moment to land before starting.
	time.Sleep(2 * time.Second)

	err = coordinator.Start(ctx, source, cfg.roomID, cfg.roomCode, cfg.roomName)
	var conflict *recording.ConflictError
	if errors.As(err, &conflict) {
		// Clearing the conflict destroys another participant's in-progress
		// session, so it only happens when the operator opted in.
		if !cfg.forceCleanup {
			return fmt.Errorf("a recording is already in progress for this room; "+
				"set FORCE_CLEANUP=true to clear it and retry: %w", conflict)
		}
		logger.Warn("session conflict, clearing stale state", zap.String("roomId", cfg.roomID))
		err = coordinator.ResolveConflict(ctx, source, cfg.roomID, cfg.roomCode, cfg.roomName)
	}
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	binding.SeedRoster(room)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("stopping recording")

	result, err := coordinator.Stop(ctx)
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	if result.CloseErr != nil {
		logger.Warn("session close failed", zap.Error(result.CloseErr))
	}
	logger.Info("recording complete",
		zap.Duration("duration", result.Duration),
		zap.Int64("fileSize", result.Upload.FileSize),
		zap.Strings("participants", result.Participants))
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "recorder:", err)
		os.Exit(1)
	}
}
