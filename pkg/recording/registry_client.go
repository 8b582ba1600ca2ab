package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionRegistry is the remote service tracking one open recording session
// per room. RegistryClient is the HTTP implementation; tests substitute fakes.
type SessionRegistry interface {
	// Open registers a new session and returns its server-issued id. It
	// returns *ConflictError when the room already has an open session.
	Open(ctx context.Context, roomID, roomCode, roomName string) (string, error)

	// Close marks the session finished. Best-effort: a failure does not block
	// local cleanup.
	Close(ctx context.Context, sessionID string, duration time.Duration) error

	// Upload submits the finalized payload together with the final
	// participant set. Only called after Close has been attempted.
	Upload(ctx context.Context, sessionID string, payload Payload, participantIDs []string) (UploadResult, error)

	// Cleanup forcibly clears any server-side session record for the room,
	// regardless of local state.
	Cleanup(ctx context.Context, roomID string) error
}

// UploadResult is the registry's response to a successful upload.
type UploadResult struct {
	FileSize int64 `json:"fileSize"`
}

// RegistryClient talks JSON over HTTP to the session registry with
// credentials included (cookie jar plus optional bearer token).
type RegistryClient struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     *zap.Logger
}

// RegistryOption configures a RegistryClient.
type RegistryOption func(*RegistryClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(c *RegistryClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAuthToken attaches a bearer token to every registry request.
func WithAuthToken(token string) RegistryOption {
	return func(c *RegistryClient) {
		c.authToken = token
	}
}

// WithRegistryLogger sets the request logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(c *RegistryClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRegistryClient creates a registry client for the given base URL, e.g.
// "https://example.com". Requests carry cookies across calls so
// session-authenticated deployments work unchanged.
func NewRegistryClient(baseURL string, opts ...RegistryOption) *RegistryClient {
	jar, _ := cookiejar.New(nil)
	c := &RegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type startRequest struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
	RoomName string `json:"roomName"`
}

type startResponse struct {
	RecordingID string `json:"recordingId"`
	Error       string `json:"error"`
}

// Open implements SessionRegistry.
func (c *RegistryClient) Open(ctx context.Context, roomID, roomCode, roomName string) (string, error) {
	body, err := json.Marshal(startRequest{RoomID: roomID, RoomCode: roomCode, RoomName: roomName})
	if err != nil {
		return "", fmt.Errorf("encode start request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/recordings/start", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Op: "open", Err: err}
	}
	defer resp.Body.Close()

	var out startResponse
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode == http.StatusConflict {
		return "", &ConflictError{RoomID: roomID, Message: out.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{Op: "open", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if out.RecordingID == "" {
		return "", &NetworkError{Op: "open", Err: fmt.Errorf("registry returned no recording id")}
	}

	c.logger.Info("recording session opened",
		zap.String("recordingId", out.RecordingID),
		zap.String("roomId", roomID))
	return out.RecordingID, nil
}

// Close implements SessionRegistry. Duration is reported in whole seconds.
func (c *RegistryClient) Close(ctx context.Context, sessionID string, duration time.Duration) error {
	body, err := json.Marshal(map[string]int{"duration": int(duration.Round(time.Second).Seconds())})
	if err != nil {
		return fmt.Errorf("encode stop request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/recordings/"+sessionID+"/stop", "application/json", bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Op: "close", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: "close", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// Upload implements SessionRegistry. The payload goes out as a multipart form
// with the media under the "video" field and the participant set as a JSON
// array under "participants".
func (c *RegistryClient) Upload(ctx context.Context, sessionID string, payload Payload, participantIDs []string) (UploadResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="video"; filename="recording%s"`, extensionForMime(payload.MimeType)))
	contentType := payload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}
	if _, err = part.Write(payload.Data); err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}

	if participantIDs == nil {
		participantIDs = []string{}
	}
	participants, err := json.Marshal(participantIDs)
	if err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}
	if err = writer.WriteField("participants", string(participants)); err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}
	if err = writer.Close(); err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/recordings/"+sessionID+"/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		return UploadResult{}, &UploadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UploadResult{}, &UploadError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result UploadResult
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, &UploadError{Err: fmt.Errorf("decode upload response: %w", err)}
	}

	c.logger.Info("recording uploaded",
		zap.String("recordingId", sessionID),
		zap.Int64("fileSize", result.FileSize))
	return result, nil
}

// Cleanup implements SessionRegistry.
func (c *RegistryClient) Cleanup(ctx context.Context, roomID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/recordings/cleanup/"+roomID, "", nil)
	if err != nil {
		return &NetworkError{Op: "cleanup", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: "cleanup", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	c.logger.Info("stale recording state cleared", zap.String("roomId", roomID))
	return nil
}

func (c *RegistryClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return c.httpClient.Do(req)
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/webm"), strings.HasPrefix(mimeType, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(mimeType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}
