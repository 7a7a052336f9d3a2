// Package gesture turns hand landmarks into a two-axis control signal.
package gesture

import (
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// Scale mapping constants. A natural pinch spans roughly 0.02-0.2
// normalized units; PinchGain stretches that over the usable scale range.
const (
	PinchGain = 15.0
	MinScale  = 0.2
	MaxScale  = 4.0
)

// RotationOffset makes an upright hand (wrist below middle finger base)
// read as zero rotation.
const RotationOffset = 90.0

// Extract maps one observed hand to a partial signal update.
// Right hands control scale, left hands control rotation; any other
// handedness yields an empty update.
func Extract(hand detector.HandLandmarks) Partial {
	switch hand.Handedness {
	case detector.HandRight:
		scale := PinchScale(hand.Points[detector.ThumbTip], hand.Points[detector.IndexTip])
		return Partial{Scale: &scale}
	case detector.HandLeft:
		rotation := WristRotation(hand.Points[detector.Wrist], hand.Points[detector.MiddleMCP])
		return Partial{Rotation: &rotation}
	default:
		return Partial{}
	}
}

// PinchScale returns the clamped scale for the 2D distance between the
// thumb and index finger tips.
func PinchScale(thumbTip, indexTip detector.Point3D) float64 {
	distance := math.Hypot(thumbTip.X-indexTip.X, thumbTip.Y-indexTip.Y)
	return clamp(distance*PinchGain, MinScale, MaxScale)
}

// WristRotation returns the angle in degrees of the wrist to middle finger
// base vector, offset so pointing straight up is 0. The result is not
// wrapped and may exceed ±180.
func WristRotation(wrist, middleMCP detector.Point3D) float64 {
	dx := middleMCP.X - wrist.X
	dy := middleMCP.Y - wrist.Y
	return math.Atan2(dy, dx)*180/math.Pi + RotationOffset
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
