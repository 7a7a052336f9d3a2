// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Facing modes. On desktop capture the device index selects the camera and
// the facing mode only informs mirroring.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrPermissionDenied is returned when the OS refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable is returned when the camera cannot be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Constraints describe the requested capture mode.
type Constraints struct {
	Width  int
	Height int
	Facing string
}

// DefaultConstraints requests a 640x480 user-facing stream.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Facing: FacingUser,
	}
}

// Source opens camera streams.
type Source interface {
	// Open acquires a stream. Failures wrap ErrPermissionDenied or
	// ErrDeviceUnavailable.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired camera stream.
type Stream interface {
	// ReadFrame reads a single frame. The caller owns the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	// FPS returns the negotiated frame rate.
	FPS() int
	// IsOpen returns true until the stream is closed.
	IsOpen() bool
	// Close stops the stream. Closing a closed stream is a no-op.
	Close() error
}

// Device is a Source backed by a local camera device.
type Device struct {
	deviceID int
}

// NewDevice creates a Source for the camera with the given device ID.
func NewDevice(deviceID int) *Device {
	return &Device{deviceID: deviceID}
}

// Open opens the camera and applies the requested resolution.
func (d *Device) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(d.deviceID)
	if err != nil {
		return nil, classifyOpenError(d.deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: device %d", ErrDeviceUnavailable, d.deviceID)
	}

	if c.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}

	fps := int(capture.Get(gocv.VideoCaptureFPS))
	if fps <= 0 {
		fps = DefaultFPS
	}

	return &cameraStream{
		capture: capture,
		running: true,
		fps:     fps,
	}, nil
}

func classifyOpenError(deviceID int, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("%w: device %d: %v", ErrPermissionDenied, deviceID, err)
	}
	return fmt.Errorf("%w: device %d: %v", ErrDeviceUnavailable, deviceID, err)
}

// cameraStream manages video capture from a camera device using GoCV.
type cameraStream struct {
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// Close closes the camera and releases resources.
func (c *cameraStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraStream) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// FPS returns the frame rate reported by the device.
func (c *cameraStream) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraStream) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
