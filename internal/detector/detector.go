package detector

import (
	"errors"

	"gocv.io/x/gocv"
)

// DefaultModelAssetPath is the float16 MediaPipe hand landmarker bundle.
const DefaultModelAssetPath = "https://storage.googleapis.com/mediapipe-models/hand_landmarker/hand_landmarker/float16/1/hand_landmarker.task"

var (
	// ErrNotReady is returned by Detect before the model finished loading.
	ErrNotReady = errors.New("detector is not ready")
	// ErrClosed is returned once the detector has been disposed.
	ErrClosed = errors.New("detector is closed")
	// ErrTimestampOrder is returned when Detect is called with a timestamp
	// older than the previous call.
	ErrTimestampOrder = errors.New("detector timestamps must not decrease")
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// timestampMs must not decrease across calls.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat, timestampMs int64) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// ModelAssetPath is the location of the hand landmarker model bundle.
	ModelAssetPath string

	// Delegate is the execution preference passed to the model ("GPU" or "CPU").
	Delegate string

	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath overrides the lookup of the landmarker service script.
	ScriptPath string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelAssetPath:  DefaultModelAssetPath,
		Delegate:        "GPU",
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}
