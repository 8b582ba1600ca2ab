package recording

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSegmentInterval is the cadence at which buffered media is sealed into
// segments while capture is active.
const DefaultSegmentInterval = time.Second

// UniversalFormat is the fallback container used when no entry of the format
// preference list is supported by the runtime. Selection never fails as long
// as this default exists.
const UniversalFormat = "video/webm"

// DefaultFormatPreference is the ordered list of container formats tried when
// starting a capture.
var DefaultFormatPreference = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	UniversalFormat,
}

// TrackInfo describes a single track of a media source.
type TrackInfo struct {
	// Kind is "audio" or "video".
	Kind string
	// MimeType is the track codec mime, e.g. "video/VP8".
	MimeType string
}

// MediaSource is a local media source feeding the capture controller. A
// source delivers already-encoded chunks; the controller only buffers and
// segments them.
type MediaSource interface {
	// Tracks returns the tracks the source exposes. A source with no tracks
	// cannot be captured.
	Tracks() []TrackInfo

	// ReadChunk blocks until the next encoded chunk is available. It returns
	// io.EOF when the source has ended. Implementations must deliver chunks
	// they already buffered before honoring ctx cancellation, so the tail of
	// a capture survives the stop boundary.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close stops the underlying device tracks. A closed source must not be
	// reused.
	Close() error
}

// Payload is the finalized capture output: all buffered segments concatenated
// into a single blob tagged with the capture's container type.
type Payload struct {
	Data     []byte
	MimeType string
}

// CaptureController owns the local capture lifecycle: it acquires a media
// source, seals incoming data into one segment per interval of wall-clock
// capture, and concatenates the segments on finalize. Finalize waits for the
// capture loop to drain and exit before copying the segments, so late writes
// can never corrupt a finalized payload and no buffered chunk is lost.
type CaptureController struct {
	mu sync.Mutex

	logger          *zap.Logger
	segmentInterval time.Duration
	formats         []string
	supports        func(mime string) bool

	source    MediaSource
	secondary MediaSource
	mimeType  string
	current   []byte
	segments  [][]byte
	active    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// CaptureOption configures a CaptureController.
type CaptureOption func(*CaptureController)

// WithSegmentInterval overrides the one-second segment cadence.
func WithSegmentInterval(d time.Duration) CaptureOption {
	return func(c *CaptureController) {
		if d > 0 {
			c.segmentInterval = d
		}
	}
}

// WithFormatPreference overrides the ordered container format preference list.
func WithFormatPreference(formats []string) CaptureOption {
	return func(c *CaptureController) {
		if len(formats) > 0 {
			c.formats = formats
		}
	}
}

// WithFormatSupport overrides the runtime format support probe. The default
// accepts every format.
func WithFormatSupport(supports func(mime string) bool) CaptureOption {
	return func(c *CaptureController) {
		if supports != nil {
			c.supports = supports
		}
	}
}

// NewCaptureController creates a capture controller.
func NewCaptureController(logger *zap.Logger, opts ...CaptureOption) *CaptureController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CaptureController{
		logger:          logger,
		segmentInterval: DefaultSegmentInterval,
		formats:         DefaultFormatPreference,
		supports:        func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins capturing from the source. It rejects sources with zero tracks
// with ErrNoTracks before any other work, and ErrSessionActive if a capture is
// already running. The container format is the first supported entry of the
// preference list, falling back to the universal default.
func (c *CaptureController) Start(source MediaSource) error {
	if len(source.Tracks()) == 0 {
		return ErrNoTracks
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrSessionActive
	}

	c.source = source
	c.mimeType = c.selectFormat()
	c.current = nil
	c.segments = nil
	c.active = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.captureLoop(ctx, source, c.done)

	c.logger.Info("capture started",
		zap.String("mimeType", c.mimeType),
		zap.Int("tracks", len(source.Tracks())))
	return nil
}

// AttachSecondary registers an externally acquired secondary source, such as a
// screen surface. Its data is not captured here; it is only stopped together
// with the primary source on finalize so it is never reused after release.
func (c *CaptureController) AttachSecondary(source MediaSource) {
	c.mu.Lock()
	c.secondary = source
	c.mu.Unlock()
}

// Active reports whether a capture is currently running.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SegmentCount returns the number of sealed segments so far.
func (c *CaptureController) SegmentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

// MimeType returns the container format selected for the current capture.
func (c *CaptureController) MimeType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mimeType
}

// Finalize stops the capture, seals any remaining buffered data, and returns
// all segments concatenated into a single payload tagged with the container
// type. The source tracks are released and the controller returns to its
// inactive state. Returns ErrNoActiveCapture when no capture is running.
func (c *CaptureController) Finalize() (Payload, error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return Payload{}, ErrNoActiveCapture
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	// Stop the capture loop before reading segments so nothing appends
	// concurrently with the copy below. The loop keeps appending until the
	// source reports the cancellation, so chunks read before the stop are
	// all in the buffer once done closes.
	cancel()
	<-done

	c.mu.Lock()
	if len(c.current) > 0 {
		c.segments = append(c.segments, c.current)
		c.current = nil
	}

	total := 0
	for _, seg := range c.segments {
		total += len(seg)
	}
	data := make([]byte, 0, total)
	for _, seg := range c.segments {
		data = append(data, seg...)
	}
	payload := Payload{Data: data, MimeType: c.mimeType}

	source, secondary := c.source, c.secondary
	c.source = nil
	c.secondary = nil
	c.segments = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if err := source.Close(); err != nil {
		c.logger.Warn("closing media source", zap.Error(err))
	}
	if secondary != nil {
		if err := secondary.Close(); err != nil {
			c.logger.Warn("closing secondary media source", zap.Error(err))
		}
	}

	c.logger.Info("capture finalized",
		zap.Int("bytes", len(payload.Data)),
		zap.String("mimeType", payload.MimeType))
	return payload, nil
}

func (c *CaptureController) selectFormat() string {
	for _, f := range c.formats {
		if c.supports(f) {
			return f
		}
	}
	return UniversalFormat
}

// captureLoop reads chunks from the source into the current buffer and seals
// the buffer into a segment once per interval. No data is dropped: a seal
// only moves the buffer, chunks arriving between ticks accumulate, and the
// loop runs until the reader has drained the source — every chunk read
// before cancellation lands in the buffer, even ones racing the stop.
func (c *CaptureController) captureLoop(ctx context.Context, source MediaSource, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.segmentInterval)
	defer ticker.Stop()

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			chunk, err := source.ReadChunk(ctx)
			if err != nil {
				readErr <- err
				return
			}
			chunks <- chunk
		}
	}()

	for {
		select {
		case err := <-readErr:
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.logger.Warn("media source read failed", zap.Error(err))
			}
			return
		case chunk := <-chunks:
			c.mu.Lock()
			c.current = append(c.current, chunk...)
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			if len(c.current) > 0 {
				c.segments = append(c.segments, c.current)
				c.current = nil
			}
			c.mu.Unlock()
		}
	}
}
