// Package session implements the streaming session: it owns the camera
// stream, a remote inference session and the capture loop that feeds
// downscaled JPEG frames into it, and tracks the connection state.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/remote"
)

// Capture defaults.
const (
	DefaultFrameRate   = 2
	DefaultDownscale   = 0.5
	DefaultJPEGQuality = 50
	DefaultSendTimeout = 5 * time.Second
)

// ErrNotDisconnected is returned by Connect unless the session is
// disconnected.
var ErrNotDisconnected = errors.New("session: connect requires the disconnected state")

// Config holds the session's collaborators and capture settings.
type Config struct {
	Source      capture.Source
	Surface     *capture.Surface
	Opener      remote.Opener
	Remote      remote.Config
	Constraints capture.Constraints

	FrameRate   float64 // frames per second sent to the remote
	Downscale   float64
	JPEGQuality int
	SendTimeout time.Duration

	Logger zerolog.Logger
}

// Stats counts capture loop outcomes over the session's lifetime.
type Stats struct {
	Sent    int64 `json:"sent"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Session is the streaming session. All methods are safe for concurrent
// use; observers are called outside the session lock.
type Session struct {
	source      capture.Source
	surface     *capture.Surface
	opener      remote.Opener
	remoteCfg   remote.Config
	constraints capture.Constraints
	interval    time.Duration
	downscale   float64
	quality     int
	sendTimeout time.Duration
	log         zerolog.Logger

	sentCounter    metric.Int64Counter
	skippedCounter metric.Int64Counter
	failedCounter  metric.Int64Counter
	sent           atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
	inflight       atomic.Bool

	mu      sync.Mutex
	state   State
	label   string
	gen     uint64
	attempt string
	stream  capture.Stream
	handle  remote.Handle
	cancel  context.CancelFunc // aborts a pending remote open
	capStop context.CancelFunc
	capDone chan struct{}
	onState func(State)
	onLabel func(string)
}

// New creates a disconnected session.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil || cfg.Surface == nil || cfg.Opener == nil {
		return nil, errors.New("session: source, surface and opener are required")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.Downscale <= 0 || cfg.Downscale > 1 {
		cfg.Downscale = DefaultDownscale
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Constraints == (capture.Constraints{}) {
		cfg.Constraints = capture.DefaultConstraints()
	}

	s := &Session{
		source:      cfg.Source,
		surface:     cfg.Surface,
		opener:      cfg.Opener,
		remoteCfg:   cfg.Remote,
		constraints: cfg.Constraints,
		interval:    time.Duration(float64(time.Second) / cfg.FrameRate),
		downscale:   cfg.Downscale,
		quality:     cfg.JPEGQuality,
		sendTimeout: cfg.SendTimeout,
		log:         cfg.Logger.With().Str("component", "session").Logger(),
	}

	m := meter()

	var err error
	s.sentCounter, err = m.Int64Counter(
		"session.frames.sent",
		metric.WithDescription("Total frames delivered to the remote session"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}

	s.skippedCounter, err = m.Int64Counter(
		"session.frames.skipped",
		metric.WithDescription("Total capture ticks that sent nothing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	s.failedCounter, err = m.Int64Counter(
		"session.frames.failed",
		metric.WithDescription("Total frames that failed to encode or send"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return s, nil
}

// OnStateChange sets the observer for state transitions.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// OnLabel sets the observer for label changes.
func (s *Session) OnLabel(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLabel = fn
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Label returns the latest gesture label, or "" when none was received.
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// Attempt returns the id of the current or last connect attempt.
func (s *Session) Attempt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Stats returns the capture loop counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Skipped: s.skipped.Load(),
		Failed:  s.failed.Load(),
	}
}

// Connect acquires the camera, starts playback on the surface and opens
// the remote session in the background. It returns once the camera is
// running; the state moves to Connected when the remote accepts the
// session. Connect fails with ErrNotDisconnected unless the session is
// disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrNotDisconnected
	}
	before := s.snapshotLocked()
	s.gen++
	gen := s.gen
	s.attempt = uuid.NewString()
	s.label = ""
	s.state = StateConnecting
	log := s.log.With().Str("attempt", s.attempt).Logger()
	notify := s.changesLocked(before)
	s.mu.Unlock()
	notify()

	log.Info().Msg("connecting")

	stream, err := s.source.Open(ctx, s.constraints)
	if err != nil {
		s.fail(gen, log, err)
		return fmt.Errorf("acquire camera: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		// Disconnected while the camera was opening
		s.mu.Unlock()
		stream.Close()
		return nil
	}
	s.stream = stream
	s.surface.Attach(stream)
	s.surface.Play()
	openCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.open(openCtx, gen, log)
	return nil
}

// Disconnect releases everything the session holds, in order: capture
// loop, remote session, pending open, surface, camera. It then forces the
// Disconnected state and clears the label. It is idempotent and safe to
// call in any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	before := s.snapshotLocked()
	s.gen++
	capStop, capDone := s.capStop, s.capDone
	handle, cancel, stream := s.handle, s.cancel, s.stream
	s.capStop, s.capDone = nil, nil
	s.handle, s.cancel, s.stream = nil, nil, nil
	s.state = StateDisconnected
	s.label = ""
	log := s.log.With().Str("attempt", s.attempt).Logger()
	notify := s.changesLocked(before)
	s.mu.Unlock()

	s.release(log, capStop, capDone, handle, cancel, stream)

	if before.state != StateDisconnected {
		log.Info().Msg("disconnected")
	}
	notify()
}

func (s *Session) release(log zerolog.Logger, capStop context.CancelFunc, capDone chan struct{},
	handle remote.Handle, cancel context.CancelFunc, stream capture.Stream) {
	if capStop != nil {
		capStop()
		<-capDone
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Debug().Err(err).Msg("closing remote session")
		}
	}
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		s.surface.Detach()
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("closing camera stream")
		}
	}
}

func (s *Session) open(ctx context.Context, gen uint64, log zerolog.Logger) {
	cb := remote.Callbacks{
		OnOpen:  func() { s.handleOpen(gen, log) },
		OnText:  func(text string) { s.handleText(gen, text) },
		OnClose: func() { s.handleClose(gen, log) },
		OnError: func(err error) { s.handleError(gen, log, err) },
	}

	handle, err := s.opener.Open(ctx, s.remoteCfg, cb)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.handleError(gen, log, fmt.Errorf("open remote session: %w", err))
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		log.Debug().Msg("remote session resolved after disconnect, closing")
		handle.Close()
		return
	}
	s.handle = handle
	s.mu.Unlock()
}

func (s *Session) handleOpen(gen uint64, log zerolog.Logger) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	before := s.snapshotLocked()
	s.state = StateConnected

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.capStop, s.capDone = stop, done
	go s.captureLoop(ctx, gen, done)

	notify := s.changesLocked(before)
	s.mu.Unlock()

	log.Info().Dur("interval", s.interval).Msg("remote session open, streaming frames")
	notify()
}

func (s *Session) handleText(gen uint64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	before := s.snapshotLocked()
	s.label = text
	notify := s.changesLocked(before)
	s.mu.Unlock()

	notify()
}

// handleClose tears the attempt down like Disconnect when the remote ends
// a live session.
func (s *Session) handleClose(gen uint64, log zerolog.Logger) {
	s.mu.Lock()
	live := gen == s.gen && (s.state == StateConnecting || s.state == StateConnected)
	s.mu.Unlock()

	if !live {
		return
	}
	log.Info().Msg("remote session closed")
	s.Disconnect()
}

// handleError moves to Error and stops the capture loop. The camera and
// the remote handle stay held until Disconnect.
func (s *Session) handleError(gen uint64, log zerolog.Logger, err error) {
	s.mu.Lock()
	if gen != s.gen || (s.state != StateConnecting && s.state != StateConnected) {
		s.mu.Unlock()
		return
	}
	before := s.snapshotLocked()
	s.state = StateError
	capStop, capDone := s.capStop, s.capDone
	s.capStop, s.capDone = nil, nil
	notify := s.changesLocked(before)
	s.mu.Unlock()

	log.Error().Err(err).Msg("remote session failed")

	if capStop != nil {
		capStop()
		<-capDone
	}
	notify()
}

func (s *Session) fail(gen uint64, log zerolog.Logger, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	before := s.snapshotLocked()
	s.state = StateError
	notify := s.changesLocked(before)
	s.mu.Unlock()

	log.Error().Err(err).Msg("camera unavailable")
	notify()
}

type snapshot struct {
	state State
	label string
}

func (s *Session) snapshotLocked() snapshot {
	return snapshot{state: s.state, label: s.label}
}

// changesLocked captures what changed since before. The returned function
// reports it to the observers and must be called after unlocking.
func (s *Session) changesLocked(before snapshot) func() {
	state, label := s.state, s.label
	onState, onLabel := s.onState, s.onLabel

	return func() {
		if state != before.state && onState != nil {
			onState(state)
		}
		if label != before.label && onLabel != nil {
			onLabel(label)
		}
	}
}

// captureLoop sends the current frame once per interval until ctx ends.
// At most one send is in flight; ticks that find one running are skipped.
func (s *Session) captureLoop(ctx context.Context, gen uint64, done chan<- struct{}) {
	var wg sync.WaitGroup
	defer close(done)
	defer wg.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, gen, &wg)
		}
	}
}

func (s *Session) tick(ctx context.Context, gen uint64, wg *sync.WaitGroup) {
	s.mu.Lock()
	handle := s.handle
	current := gen == s.gen
	s.mu.Unlock()

	// Remote handle not resolved yet
	if !current || handle == nil {
		return
	}

	if !s.inflight.CompareAndSwap(false, true) {
		s.skip(ctx, "inflight")
		return
	}

	frame, ok := s.surface.Frame()
	if !ok {
		s.inflight.Store(false)
		s.skip(ctx, "no_frame")
		return
	}

	data, err := capture.EncodeJPEG(frame, s.downscale, s.quality)
	frame.Close()
	if err != nil {
		s.inflight.Store(false)
		s.failed.Add(1)
		s.failedCounter.Add(ctx, 1)
		s.log.Debug().Err(err).Msg("encoding frame")
		return
	}

	media := remote.Media{
		MIMEType: remote.MIMETypeJPEG,
		Data:     base64.StdEncoding.EncodeToString(data),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.inflight.Store(false)

		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()

		if err := handle.SendRealtimeInput(sendCtx, media); err != nil {
			s.failed.Add(1)
			s.failedCounter.Add(context.Background(), 1)
			s.log.Debug().Err(err).Msg("sending frame")
			return
		}
		s.sent.Add(1)
		s.sentCounter.Add(context.Background(), 1)
	}()
}

func (s *Session) skip(ctx context.Context, reason string) {
	s.skipped.Add(1)
	s.skippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
