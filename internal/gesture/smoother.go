package gesture

import (
	"math"
	"time"
)

// Smoother is a per-axis exponential filter with time constant Tau.
// Each update moves the axis toward the raw value by
// 1 - exp(-dt/Tau), where dt is the time since that axis last updated.
// The first sample of an axis is taken as is. Tau <= 0 disables filtering.
// Rotation follows the shortest turn toward the raw angle, so a raw value
// jumping across the ±180° branch (270 to -90) does not sweep a full turn;
// the filtered rotation stays continuous and may leave the raw range.
//
// Smoother is not safe for concurrent use; Aggregator serializes access.
type Smoother struct {
	Tau time.Duration

	scaleAt    time.Time
	rotationAt time.Time
}

// NewSmoother creates a Smoother with the given time constant.
func NewSmoother(tau time.Duration) *Smoother {
	return &Smoother{Tau: tau}
}

// Filter applies p to prev and returns the filtered signal.
func (s *Smoother) Filter(prev Signal, p Partial, now time.Time) Signal {
	next := prev
	if p.Scale != nil {
		next.Scale = s.step(prev.Scale, *p.Scale, *p.Scale-prev.Scale, &s.scaleAt, now)
	}
	if p.Rotation != nil {
		next.Rotation = s.step(prev.Rotation, *p.Rotation, angleDelta(prev.Rotation, *p.Rotation), &s.rotationAt, now)
	}
	return next
}

// Reset forgets sample history so the next update of each axis is taken as is.
func (s *Smoother) Reset() {
	s.scaleAt = time.Time{}
	s.rotationAt = time.Time{}
}

// step moves prev by a fraction of delta, the distance from prev to raw.
func (s *Smoother) step(prev, raw, delta float64, last *time.Time, now time.Time) float64 {
	seeded := !last.IsZero()
	dt := now.Sub(*last)
	*last = now

	if s.Tau <= 0 || !seeded {
		return raw
	}
	if dt <= 0 {
		return prev
	}

	alpha := 1 - math.Exp(-float64(dt)/float64(s.Tau))
	return prev + alpha*delta
}

// angleDelta is the signed shortest turn in degrees from one angle to another.
func angleDelta(from, to float64) float64 {
	return math.Remainder(to-from, 360)
}
