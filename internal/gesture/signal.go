package gesture

import (
	"math"
	"sync"
	"time"
)

// Partial is a possibly incomplete signal update. A nil field means no
// update for that axis.
type Partial struct {
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// Empty reports whether neither axis carries an update.
func (p Partial) Empty() bool {
	return p.Scale == nil && p.Rotation == nil
}

// Merge overlays next onto p; fields present in next win.
func (p Partial) Merge(next Partial) Partial {
	if next.Scale != nil {
		p.Scale = next.Scale
	}
	if next.Rotation != nil {
		p.Rotation = next.Rotation
	}
	return p
}

// Signal is the aggregated transform driving the controlled shape.
type Signal struct {
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// DefaultSignal is the identity transform.
func DefaultSignal() Signal {
	return Signal{Scale: 1, Rotation: 0}
}

// DisplayScale is the scale as rendered, floored at MinScale.
func (s Signal) DisplayScale() float64 {
	return math.Max(MinScale, s.Scale)
}

// Aggregator merges partial updates into a persistent Signal. Axes missing
// from an update keep their previous value. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	signal   Signal
	smoother *Smoother
	onChange func(Signal)
}

// NewAggregator creates an Aggregator starting at DefaultSignal. A nil
// smoother applies updates unfiltered.
func NewAggregator(smoother *Smoother) *Aggregator {
	return &Aggregator{
		signal:   DefaultSignal(),
		smoother: smoother,
	}
}

// OnChange sets the callback invoked after every applied update.
func (a *Aggregator) OnChange(fn func(Signal)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Apply merges p at time now and returns the resulting signal.
func (a *Aggregator) Apply(p Partial, now time.Time) Signal {
	if p.Empty() {
		return a.Current()
	}

	a.mu.Lock()
	if a.smoother != nil {
		a.signal = a.smoother.Filter(a.signal, p, now)
	} else {
		if p.Scale != nil {
			a.signal.Scale = *p.Scale
		}
		if p.Rotation != nil {
			a.signal.Rotation = *p.Rotation
		}
	}
	signal := a.signal
	callback := a.onChange
	a.mu.Unlock()

	if callback != nil {
		callback(signal)
	}
	return signal
}

// Current returns the aggregated signal.
func (a *Aggregator) Current() Signal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.signal
}

// Reset returns the signal to DefaultSignal and clears smoothing history.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signal = DefaultSignal()
	if a.smoother != nil {
		a.smoother.Reset()
	}
}
