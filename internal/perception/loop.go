// Package perception runs hand detection once per display refresh and turns
// the detected hands into gesture updates.
package perception

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/overlay"
)

// FrameSource provides the most recent video frame. ok is false while no
// pixels have been decoded. capture.Surface implements it.
type FrameSource interface {
	Frame() (frame *gocv.Mat, ok bool)
}

// Config holds the loop's collaborators.
type Config struct {
	Frames    FrameSource
	Canvas    *overlay.Canvas
	Scheduler Scheduler // defaults to a 60 Hz RefreshScheduler
	Clock     *Clock    // defaults to NewClock()
	OnUpdate  func(gesture.Partial)
	Logger    zerolog.Logger
}

// Loop is the perception loop. While active it runs one iteration per
// scheduler callback: read the current frame, detect hands, redraw the
// overlay, extract gestures and hand the merged update to OnUpdate. The
// next iteration is requested only after the previous one, dispatch
// included, has finished.
type Loop struct {
	frames    FrameSource
	canvas    *overlay.Canvas
	scheduler Scheduler
	clock     *Clock
	onUpdate  func(gesture.Partial)
	log       zerolog.Logger

	iterations metric.Int64Counter
	dispatched metric.Int64Counter

	mu       sync.Mutex
	detector detector.Detector
	active   bool
	disposed bool
	gen      uint64
	cancel   func()

	// stepMu serializes iterations with each other and with Stop's
	// overlay clear.
	stepMu sync.Mutex
}

// New creates an inactive loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Frames == nil {
		return nil, errors.New("perception: frame source is required")
	}
	if cfg.Canvas == nil {
		return nil, errors.New("perception: overlay canvas is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRefreshScheduler(DefaultRefreshHz)
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}

	l := &Loop{
		frames:    cfg.Frames,
		canvas:    cfg.Canvas,
		scheduler: cfg.Scheduler,
		clock:     cfg.Clock,
		onUpdate:  cfg.OnUpdate,
		log:       cfg.Logger.With().Str("component", "perception").Logger(),
	}

	m := meter()

	var err error
	l.iterations, err = m.Int64Counter(
		"perception.iterations",
		metric.WithDescription("Total perception loop iterations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iterations counter: %w", err)
	}

	l.dispatched, err = m.Int64Counter(
		"perception.updates.dispatched",
		metric.WithDescription("Total gesture updates handed to the consumer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}

	return l, nil
}

// AttachDetector installs the detector once its initialization finished.
// It returns false when the loop was already disposed; the caller then owns
// d and must close it.
func (l *Loop) AttachDetector(d detector.Detector) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return false
	}
	l.detector = d
	return true
}

// HasDetector reports whether a detector is attached.
func (l *Loop) HasDetector() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector != nil
}

// Start activates the loop and requests the first iteration. Starting an
// active or disposed loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active || l.disposed {
		return
	}
	l.active = true
	l.gen++
	l.schedule(l.gen)
	l.log.Debug().Msg("perception loop started")
}

// Stop deactivates the loop, withdraws the pending iteration and clears the
// overlay. An iteration already detecting is allowed to finish first, so
// nothing is drawn after Stop returns, and its update is dropped. Stop may
// be called from OnUpdate.
func (l *Loop) Stop() {
	l.mu.Lock()
	wasActive := l.active
	l.active = false
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.stepMu.Lock()
	l.canvas.Clear()
	l.stepMu.Unlock()

	if wasActive {
		l.log.Debug().Msg("perception loop stopped")
	}
}

// Dispose stops the loop for good. Detectors attached afterwards are refused.
func (l *Loop) Dispose() {
	l.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposed = true
	l.detector = nil
}

// Active reports whether iterations are being scheduled.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Step runs a single iteration and reports whether an update was
// dispatched.
func (l *Loop) Step() bool {
	p, ok := l.detect()
	if !ok {
		return false
	}
	l.dispatch(p)
	return true
}

func (l *Loop) dispatch(p gesture.Partial) {
	l.dispatched.Add(context.Background(), 1)
	if l.onUpdate != nil {
		l.onUpdate(p)
	}
}

// current reports whether the iteration scheduled under gen still belongs
// to the active run.
func (l *Loop) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active && gen == l.gen
}

// schedule must be called with mu held.
func (l *Loop) schedule(gen uint64) {
	l.cancel = l.scheduler.Request(func(time.Time) {
		l.frame(gen)
	})
}

func (l *Loop) frame(gen uint64) {
	l.mu.Lock()
	if !l.active || gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.cancel = nil
	l.mu.Unlock()

	// A Stop that arrived during detection drops the result
	if p, ok := l.detect(); ok && l.current(gen) {
		l.dispatch(p)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active && gen == l.gen {
		l.schedule(gen)
	}
}

func (l *Loop) detect() (gesture.Partial, bool) {
	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	l.iterations.Add(context.Background(), 1)

	l.mu.Lock()
	d := l.detector
	l.mu.Unlock()

	// Detector still initializing
	if d == nil {
		return gesture.Partial{}, false
	}

	frame, ok := l.frames.Frame()
	if !ok {
		return gesture.Partial{}, false
	}
	defer frame.Close()

	l.canvas.Fit(frame.Cols(), frame.Rows())

	hands, err := d.Detect(frame, l.clock.NowMs())

	// A failed frame leaves no skeleton behind
	l.canvas.Clear()
	if err != nil {
		if !errors.Is(err, detector.ErrNotReady) {
			l.log.Debug().Err(err).Msg("detection failed, skipping frame")
		}
		return gesture.Partial{}, false
	}

	// Later hands of the same handedness override earlier ones
	var merged gesture.Partial
	for _, hand := range hands {
		l.canvas.DrawHand(hand)
		merged = merged.Merge(gesture.Extract(hand))
	}

	return merged, !merged.Empty()
}
