package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// maxUploadBytes bounds multipart upload memory/disk usage.
const maxUploadBytes = 2 << 30

// Server exposes the session-registry HTTP surface:
//
//	POST /api/recordings/start            open a session (409 on conflict)
//	POST /api/recordings/{id}/stop        close a session (best-effort caller)
//	POST /api/recordings/{id}/upload      multipart payload + participants
//	POST /api/recordings/cleanup/{roomID} force-clear room state
type Server struct {
	store   *Store
	archive *Archive
	logger  *zap.Logger
	router  chi.Router
}

// NewServer creates the registry HTTP handler.
func NewServer(store *Store, archive *Archive, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		archive: archive,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Route("/api/recordings", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/{id}/stop", s.handleStop)
		r.Post("/{id}/upload", s.handleUpload)
		r.Post("/cleanup/{roomID}", s.handleCleanup)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID   string `json:"roomId"`
		RoomCode string `json:"roomCode"`
		RoomName string `json:"roomName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid start request")
		return
	}

	rec, err := s.store.OpenSession(req.RoomID, req.RoomCode, req.RoomName)
	if errors.Is(err, ErrSessionOpen) {
		s.writeError(w, http.StatusConflict, "Recording already in progress for this room")
		return
	}
	if err != nil {
		s.logger.Error("opening session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to open recording session")
		return
	}

	s.logger.Info("session opened",
		zap.String("recordingId", rec.ID),
		zap.String("roomId", rec.RoomID))
	s.writeJSON(w, http.StatusCreated, map[string]string{"recordingId": rec.ID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Duration int `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid stop request")
		return
	}

	rec, err := s.store.StopSession(id, req.Duration)
	if errors.Is(err, ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "recording session not found")
		return
	}
	if err != nil {
		s.logger.Error("stopping session", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop recording session")
		return
	}

	s.logger.Info("session stopped",
		zap.String("recordingId", rec.ID),
		zap.Int("duration", rec.Duration))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(id); errors.Is(err, ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "recording session not found")
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing video file")
		return
	}
	defer file.Close()

	var participants []string
	if raw := r.FormValue("participants"); raw != "" {
		if err = json.Unmarshal([]byte(raw), &participants); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid participants field")
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	size, path, err := s.archive.Save(r.Context(), id, contentType, http.MaxBytesReader(w, file, maxUploadBytes))
	if err != nil {
		s.logger.Error("archiving upload", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store recording")
		return
	}

	rec, err := s.store.AttachUpload(id, size, path, participants)
	if err != nil {
		s.logger.Error("recording upload", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	s.logger.Info("recording uploaded",
		zap.String("recordingId", rec.ID),
		zap.Int64("fileSize", rec.FileSize),
		zap.Int("participants", len(rec.Participants)))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fileSize": rec.FileSize,
		"filePath": rec.FilePath,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	cleared, err := s.store.CleanupRoom(roomID)
	if err != nil {
		s.logger.Error("cleaning up room", zap.String("roomId", roomID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to clean up room")
		return
	}

	msg := "no recording state to clear"
	if cleared > 0 {
		msg = "stale recording state cleared"
	}
	s.logger.Info("room cleanup",
		zap.String("roomId", roomID),
		zap.Int("cleared", cleared))
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}
