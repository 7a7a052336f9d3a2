// Package app wires the camera, hand tracking and the streaming session into
// one activatable unit.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/overlay"
	"github.com/ayusman/mudra/internal/perception"
	"github.com/ayusman/mudra/internal/remote"
	"github.com/ayusman/mudra/internal/session"
)

// DetectorFactory creates and initializes a landmark detector. It may take
// seconds while the model loads and must honour ctx.
type DetectorFactory func(ctx context.Context) (detector.Detector, error)

// Config holds configuration options for the application.
type Config struct {
	Source      capture.Source
	Opener      remote.Opener
	Remote      remote.Config
	Constraints capture.Constraints

	FrameRate   float64
	Downscale   float64
	JPEGQuality int
	SendTimeout time.Duration

	Scheduler perception.Scheduler
	// Smoothing is the time constant of the signal filter; 0 disables it.
	Smoothing time.Duration
	// Detector is started in the background by New. Nil leaves hand
	// tracking idle.
	Detector DetectorFactory

	Logger zerolog.Logger
}

// Status is a point-in-time view of the application.
type Status struct {
	Active   bool           `json:"active"`
	State    session.State  `json:"status"`
	Label    string         `json:"label"`
	Attempt  string         `json:"attempt,omitempty"`
	Tracking bool           `json:"tracking"`
	Signal   gesture.Signal `json:"signal"`
	Frames   session.Stats  `json:"frames"`
}

// App is the main application. Activating it connects the streaming
// session and starts the perception loop; deactivating tears both down.
type App struct {
	log        zerolog.Logger
	surface    *capture.Surface
	canvas     *overlay.Canvas
	aggregator *gesture.Aggregator
	loop       *perception.Loop
	session    *session.Session

	ctx      context.Context
	cancel   context.CancelFunc
	initDone chan struct{}

	// opMu serializes Activate and Deactivate.
	opMu sync.Mutex

	mu        sync.RWMutex
	active    bool
	closed    bool
	detector  detector.Detector
	listeners []func(Status)
}

// New creates an inactive App and starts detector initialization.
func New(cfg Config) (*App, error) {
	if cfg.Source == nil || cfg.Opener == nil {
		return nil, errors.New("app: source and opener are required")
	}

	log := cfg.Logger.With().Str("component", "app").Logger()

	var smoother *gesture.Smoother
	if cfg.Smoothing > 0 {
		smoother = gesture.NewSmoother(cfg.Smoothing)
	}

	a := &App{
		log:        log,
		surface:    capture.NewSurface(cfg.Logger),
		canvas:     overlay.NewCanvas(),
		aggregator: gesture.NewAggregator(smoother),
		initDone:   make(chan struct{}),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	loop, err := perception.New(perception.Config{
		Frames:    a.surface,
		Canvas:    a.canvas,
		Scheduler: cfg.Scheduler,
		OnUpdate: func(p gesture.Partial) {
			a.aggregator.Apply(p, time.Now())
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.loop = loop

	sess, err := session.New(session.Config{
		Source:      cfg.Source,
		Surface:     a.surface,
		Opener:      cfg.Opener,
		Remote:      cfg.Remote,
		Constraints: cfg.Constraints,
		FrameRate:   cfg.FrameRate,
		Downscale:   cfg.Downscale,
		JPEGQuality: cfg.JPEGQuality,
		SendTimeout: cfg.SendTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.session = sess
	sess.OnStateChange(func(session.State) { a.notify() })
	sess.OnLabel(func(string) { a.notify() })

	if cfg.Detector != nil {
		go a.initDetector(cfg.Detector)
	} else {
		close(a.initDone)
	}

	return a, nil
}

// initDetector loads the detector and hands it to the loop. A detector that
// becomes ready after Close is closed right away.
func (a *App) initDetector(factory DetectorFactory) {
	defer close(a.initDone)

	start := time.Now()
	d, err := factory(a.ctx)
	if err != nil {
		if a.ctx.Err() == nil {
			a.log.Warn().Err(err).Msg("hand tracking unavailable")
		}
		return
	}

	if !a.loop.AttachDetector(d) {
		d.Close()
		return
	}

	a.mu.Lock()
	a.detector = d
	a.mu.Unlock()

	a.log.Info().Dur("took", time.Since(start)).Msg("hand tracking ready")
	a.notify()
}

// OnChange registers fn to be called whenever the activation, session state
// or label changes.
func (a *App) OnChange(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Activate connects the streaming session and starts hand tracking. Hand
// tracking runs even when the connection fails; the error is returned and
// reflected in the session state.
func (a *App) Activate(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.activate(ctx)
}

// activate must be called with opMu held.
func (a *App) activate(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("app: closed")
	}
	if a.active {
		a.mu.Unlock()
		return nil
	}
	a.active = true
	a.mu.Unlock()

	a.aggregator.Reset()
	a.loop.Start()
	a.notify()

	a.log.Info().Msg("activated")
	return a.session.Connect(ctx)
}

// Deactivate stops hand tracking first and then disconnects the session.
func (a *App) Deactivate() {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.deactivate()
}

// deactivate must be called with opMu held.
func (a *App) deactivate() {
	a.mu.Lock()
	wasActive := a.active
	a.active = false
	a.mu.Unlock()

	a.loop.Stop()
	a.session.Disconnect()

	if wasActive {
		a.log.Info().Msg("deactivated")
		a.notify()
	}
}

// Toggle flips the activation and reports the new state. Concurrent
// toggles are serialized, so each one flips.
func (a *App) Toggle(ctx context.Context) (bool, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if a.Active() {
		a.deactivate()
		return false, nil
	}
	err := a.activate(ctx)
	return true, err
}

// Close deactivates the app and disposes the detector. The App cannot be
// activated again.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.Deactivate()
	a.loop.Dispose()
	a.cancel()
	<-a.initDone

	a.mu.Lock()
	d := a.detector
	a.detector = nil
	a.mu.Unlock()

	if d != nil {
		if err := d.Close(); err != nil {
			a.log.Debug().Err(err).Msg("closing detector")
		}
	}
	return a.canvas.Close()
}

// Active reports whether the app is activated.
func (a *App) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Status returns the current status.
func (a *App) Status() Status {
	a.mu.RLock()
	active := a.active
	a.mu.RUnlock()

	return Status{
		Active:   active,
		State:    a.session.State(),
		Label:    a.session.Label(),
		Attempt:  a.session.Attempt(),
		Tracking: a.loop.HasDetector(),
		Signal:   a.aggregator.Current(),
		Frames:   a.session.Stats(),
	}
}

// Surface returns the shared video surface.
func (a *App) Surface() *capture.Surface {
	return a.surface
}

// Canvas returns the overlay canvas.
func (a *App) Canvas() *overlay.Canvas {
	return a.canvas
}

// Aggregator returns the gesture signal aggregator.
func (a *App) Aggregator() *gesture.Aggregator {
	return a.aggregator
}

// Session returns the streaming session.
func (a *App) Session() *session.Session {
	return a.session
}

func (a *App) notify() {
	a.mu.RLock()
	listeners := append([]func(Status) nil, a.listeners...)
	a.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	status := a.Status()
	for _, fn := range listeners {
		fn(status)
	}
}
