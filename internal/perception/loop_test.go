package perception

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/overlay"
)

// manualScheduler queues requests until the test fires them.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*request
}

type request struct {
	fn        func(time.Time)
	cancelled bool
}

func (s *manualScheduler) Request(fn func(time.Time)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &request{fn: fn}
	s.pending = append(s.pending, r)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		r.cancelled = true
	}
}

// Fire runs every live request queued so far and returns how many ran.
func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	n := 0
	for _, r := range queued {
		s.mu.Lock()
		cancelled := r.cancelled
		s.mu.Unlock()
		if cancelled {
			continue
		}
		r.fn(time.Now())
		n++
	}
	return n
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.pending {
		if !r.cancelled {
			n++
		}
	}
	return n
}

// staticFrames always returns a copy of the same frame.
type staticFrames struct {
	mu  sync.Mutex
	mat *gocv.Mat
}

func (f *staticFrames) Frame() (*gocv.Mat, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mat == nil {
		return nil, false
	}
	clone := f.mat.Clone()
	return &clone, true
}

func (f *staticFrames) Set(m *gocv.Mat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mat = m
}

type fixture struct {
	loop      *Loop
	scheduler *manualScheduler
	frames    *staticFrames
	canvas    *overlay.Canvas
	detector  *detector.MockDetector

	mu      sync.Mutex
	updates []gesture.Partial
}

func (f *fixture) Updates() []gesture.Partial {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gesture.Partial(nil), f.updates...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	f := &fixture{
		scheduler: &manualScheduler{},
		frames:    &staticFrames{mat: &frame},
		canvas:    overlay.NewCanvas(),
		detector:  detector.NewMockDetector(),
	}
	t.Cleanup(func() { f.canvas.Close() })

	loop, err := New(Config{
		Frames:    f.frames,
		Canvas:    f.canvas,
		Scheduler: f.scheduler,
		OnUpdate: func(p gesture.Partial) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.updates = append(f.updates, p)
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	f.loop = loop
	return f
}

func canvasPainted(t *testing.T, c *overlay.Canvas) bool {
	t.Helper()

	snap := c.Snapshot()
	defer snap.Close()
	if snap.Empty() {
		return false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(snap, &gray, gocv.ColorBGRToGray)
	return gocv.CountNonZero(gray) > 0
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Canvas: overlay.NewCanvas()})
	assert.Error(t, err)

	_, err = New(Config{Frames: &staticFrames{}})
	assert.Error(t, err)
}

func TestLoop_SkipsUntilDetectorAttached(t *testing.T) {
	f := newFixture(t)

	f.loop.Start()
	require.Equal(t, 1, f.scheduler.Fire())

	assert.Empty(t, f.Updates())
	assert.Equal(t, 1, f.scheduler.Pending(), "loop keeps polling while the detector loads")
}

func TestLoop_SkipsWithoutPixels(t *testing.T) {
	f := newFixture(t)
	f.frames.Set(nil)
	f.detector.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandRight)})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.scheduler.Fire()

	assert.Zero(t, f.detector.Calls(), "no detection on an undecoded surface")
	assert.Equal(t, 1, f.scheduler.Pending())
}

func TestLoop_PinchDispatchesScale(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{
		detector.PinchLandmarks(detector.Point3D{X: 0.50, Y: 0.50}, detector.Point3D{X: 0.56, Y: 0.50}),
	})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.scheduler.Fire()

	updates := f.Updates()
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Scale)
	assert.InDelta(t, 0.9, *updates[0].Scale, 1e-9)
	assert.Nil(t, updates[0].Rotation)

	w, h := f.canvas.Size()
	assert.Equal(t, 160, w)
	assert.Equal(t, 120, h)
	assert.True(t, canvasPainted(t, f.canvas))
}

func TestLoop_NoHandsNoDispatch(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	for i := 0; i < 5; i++ {
		f.scheduler.Fire()
	}

	assert.Equal(t, 5, f.detector.Calls())
	assert.Empty(t, f.Updates())
	assert.False(t, canvasPainted(t, f.canvas))
}

func TestLoop_BothHandsMergeIntoOneUpdate(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{
		detector.TiltLandmarks(detector.Point3D{X: 0.5, Y: 0.8}, detector.Point3D{X: 0.5, Y: 0.6}),
		detector.PinchLandmarks(detector.Point3D{X: 0.5, Y: 0.5}, detector.Point3D{X: 0.5, Y: 0.6}),
	})
	require.True(t, f.loop.AttachDetector(f.detector))

	assert.True(t, f.loop.Step())

	updates := f.Updates()
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Scale)
	require.NotNil(t, updates[0].Rotation)
	assert.InDelta(t, 1.5, *updates[0].Scale, 1e-9)
	assert.InDelta(t, 0, *updates[0].Rotation, 1e-9)
}

func TestLoop_DuplicateHandednessLastWins(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{
		detector.PinchLandmarks(detector.Point3D{X: 0.5, Y: 0.5}, detector.Point3D{X: 0.5, Y: 0.6}),
		detector.PinchLandmarks(detector.Point3D{X: 0.5, Y: 0.5}, detector.Point3D{X: 0.5, Y: 0.7}),
	})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Step()

	updates := f.Updates()
	require.Len(t, updates, 1)
	assert.InDelta(t, 3.0, *updates[0].Scale, 1e-9)
}

func TestLoop_DispatchCountMatchesUpdates(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.loop.AttachDetector(f.detector))
	f.loop.Start()

	hands := [][]detector.HandLandmarks{
		nil,
		{detector.OpenPalmLandmarks(detector.HandLeft)},
		nil,
		{detector.OpenPalmLandmarks(detector.HandRight)},
		{{Handedness: "Unknown"}},
	}
	for _, h := range hands {
		f.detector.SetHands(h)
		f.scheduler.Fire()
	}

	assert.Len(t, f.Updates(), 2)
	for _, u := range f.Updates() {
		assert.False(t, u.Empty())
	}
}

func TestLoop_TimestampsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.loop.AttachDetector(f.detector))

	for i := 0; i < 10; i++ {
		f.loop.Step()
	}

	ts := f.detector.Timestamps()
	require.Len(t, ts, 10)
	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
}

func TestLoop_DetectorErrorIsTransient(t *testing.T) {
	f := newFixture(t)
	f.detector.SetError(errors.New("inference failed"))
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.scheduler.Fire()

	assert.Empty(t, f.Updates())
	assert.Equal(t, 1, f.scheduler.Pending(), "loop continues after a failed frame")

	f.detector.SetError(nil)
	f.detector.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandLeft)})
	f.scheduler.Fire()
	assert.Len(t, f.Updates(), 1)
}

func TestLoop_StopCancelsAndClears(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandRight)})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.scheduler.Fire()
	require.True(t, canvasPainted(t, f.canvas))
	require.Equal(t, 1, f.scheduler.Pending())

	f.loop.Stop()

	assert.False(t, f.loop.Active())
	assert.Zero(t, f.scheduler.Pending())
	assert.False(t, canvasPainted(t, f.canvas), "overlay cleared synchronously")

	// Stopping again is harmless
	f.loop.Stop()
}

// blockingDetector holds Detect until released.
type blockingDetector struct {
	*detector.MockDetector
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]detector.HandLandmarks, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.MockDetector.Detect(frame, timestampMs)
}

func TestLoop_StopDuringDetectionDropsUpdate(t *testing.T) {
	f := newFixture(t)
	d := &blockingDetector{
		MockDetector: f.detector,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	d.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandRight)})
	require.True(t, f.loop.AttachDetector(d))

	f.loop.Start()

	fired := make(chan struct{})
	go func() {
		f.scheduler.Fire()
		close(fired)
	}()
	<-d.entered

	stopped := make(chan struct{})
	go func() {
		f.loop.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !f.loop.Active() }, time.Second, time.Millisecond)

	close(d.release)
	<-fired
	<-stopped

	assert.Empty(t, f.Updates(), "result of an iteration interrupted by Stop is dropped")
	assert.Zero(t, f.scheduler.Pending())
	assert.False(t, canvasPainted(t, f.canvas))
}

func TestLoop_DetectorErrorClearsOverlay(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandRight)})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.scheduler.Fire()
	require.True(t, canvasPainted(t, f.canvas))

	f.detector.SetError(errors.New("inference failed"))
	f.scheduler.Fire()

	assert.False(t, canvasPainted(t, f.canvas), "no stale skeleton after a failed frame")
	assert.True(t, f.loop.Active())
}

func TestLoop_StopFromConsumer(t *testing.T) {
	f := newFixture(t)
	f.detector.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks(detector.HandRight)})
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.onUpdate = func(gesture.Partial) { f.loop.Stop() }
	f.loop.Start()
	f.scheduler.Fire()

	assert.False(t, f.loop.Active())
	assert.Zero(t, f.scheduler.Pending(), "no iteration requested after Stop")
}

func TestLoop_RestartDoesNotDoubleSchedule(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.loop.AttachDetector(f.detector))

	f.loop.Start()
	f.loop.Stop()
	f.loop.Start()
	f.loop.Start()

	assert.Equal(t, 1, f.scheduler.Pending())
	f.scheduler.Fire()
	assert.Equal(t, 1, f.scheduler.Pending())
}

func TestLoop_AttachAfterDispose(t *testing.T) {
	f := newFixture(t)
	f.loop.Start()
	f.loop.Dispose()

	assert.False(t, f.loop.AttachDetector(f.detector), "late detector is refused")
	assert.False(t, f.loop.HasDetector())

	f.loop.Start()
	assert.False(t, f.loop.Active(), "disposed loop cannot restart")
}

func TestRefreshScheduler(t *testing.T) {
	t.Run("fires on the next boundary", func(t *testing.T) {
		s := NewRefreshScheduler(100)
		assert.Equal(t, 10*time.Millisecond, s.Interval())

		fired := make(chan time.Time, 1)
		s.Request(func(ts time.Time) { fired <- ts })

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("request never fired")
		}
	})

	t.Run("cancel withdraws the request", func(t *testing.T) {
		s := NewRefreshScheduler(10)

		fired := make(chan struct{}, 1)
		cancel := s.Request(func(time.Time) { fired <- struct{}{} })
		cancel()

		select {
		case <-fired:
			t.Fatal("cancelled request fired")
		case <-time.After(250 * time.Millisecond):
		}
	})

	t.Run("non-positive rate uses default", func(t *testing.T) {
		s := NewRefreshScheduler(0)
		assert.Equal(t, time.Second/DefaultRefreshHz, s.Interval())
	})
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	c := NewClock()

	prev := c.NowMs()
	assert.GreaterOrEqual(t, prev, int64(0))
	for i := 0; i < 1000; i++ {
		next := c.NowMs()
		require.Greater(t, next, prev)
		prev = next
	}
}
