package perception

import (
	"sync"
	"time"
)

// DefaultRefreshHz is the display refresh rate assumed when none is configured.
const DefaultRefreshHz = 60

// Scheduler requests a callback on the next display refresh. The returned
// cancel function withdraws the request if it has not fired yet.
// Implementations must not invoke fn synchronously from Request.
type Scheduler interface {
	Request(fn func(time.Time)) (cancel func())
}

// RefreshScheduler fires requests on the boundaries of a fixed refresh
// interval, like a display's vertical sync.
type RefreshScheduler struct {
	interval time.Duration
}

// NewRefreshScheduler creates a scheduler ticking at hz refreshes per second.
// Values <= 0 fall back to DefaultRefreshHz.
func NewRefreshScheduler(hz float64) *RefreshScheduler {
	if hz <= 0 {
		hz = DefaultRefreshHz
	}
	return &RefreshScheduler{interval: time.Duration(float64(time.Second) / hz)}
}

// Interval returns the refresh period.
func (s *RefreshScheduler) Interval() time.Duration {
	return s.interval
}

// Request schedules fn for the next refresh boundary.
func (s *RefreshScheduler) Request(fn func(time.Time)) func() {
	now := time.Now()
	next := now.Truncate(s.interval).Add(s.interval)

	t := time.AfterFunc(next.Sub(now), func() {
		fn(time.Now())
	})
	return func() { t.Stop() }
}

// Clock hands out strictly increasing millisecond timestamps measured on
// the monotonic clock since its creation. Video-mode detectors reject
// timestamps that do not advance.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	last  int64
}

// NewClock creates a clock starting at zero.
func NewClock() *Clock {
	return &Clock{start: time.Now(), last: -1}
}

// NowMs returns the next timestamp. Two calls within the same millisecond
// still yield distinct, increasing values.
func (c *Clock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := time.Since(c.start).Milliseconds()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
