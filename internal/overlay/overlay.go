// Package overlay draws detected hand skeletons onto a raster surface that
// sits on top of the video frame.
package overlay

import (
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
)

// Drawing style.
var Accent = color.RGBA{R: 52, G: 211, B: 153, A: 255} // #34d399

const (
	LineWidth = 2
	DotRadius = 3
)

// Canvas is a BGR raster the size of the source frame. Unpainted pixels are
// black and treated as transparent by Composite. It is safe for concurrent
// use.
type Canvas struct {
	mu  sync.Mutex
	mat gocv.Mat
}

// NewCanvas creates an empty zero-sized canvas.
func NewCanvas() *Canvas {
	return &Canvas{mat: gocv.NewMat()}
}

// Fit resizes the canvas to width x height when its size differs and
// reports whether it did. Resizing clears the canvas.
func (c *Canvas) Fit(width, height int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mat.Cols() == width && c.mat.Rows() == height {
		return false
	}

	c.mat.Close()
	c.mat = gocv.Zeros(height, width, gocv.MatTypeCV8UC3)
	return true
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mat.Cols(), c.mat.Rows()
}

// Clear erases everything drawn.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mat.Empty() {
		return
	}
	c.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

// DrawHand draws the skeleton connections and a dot per landmark.
func (c *Canvas) DrawHand(hand detector.HandLandmarks) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mat.Empty() {
		return
	}

	w, h := c.mat.Cols(), c.mat.Rows()
	for _, conn := range detector.Connections {
		p1 := toPixel(hand.Points[conn[0]], w, h)
		p2 := toPixel(hand.Points[conn[1]], w, h)
		gocv.Line(&c.mat, p1, p2, Accent, LineWidth)
	}

	for _, p := range hand.Points {
		gocv.Circle(&c.mat, toPixel(p, w, h), DotRadius, Accent, -1)
	}
}

// Composite copies every painted canvas pixel onto frame. It does nothing
// and returns false when the sizes or pixel types differ.
func (c *Canvas) Composite(frame *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mat.Empty() || frame == nil || frame.Empty() {
		return false
	}
	if frame.Cols() != c.mat.Cols() || frame.Rows() != c.mat.Rows() || frame.Type() != c.mat.Type() {
		return false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(c.mat, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 0, 255, gocv.ThresholdBinary)

	c.mat.CopyToWithMask(frame, mask)
	return true
}

// Snapshot returns a copy of the canvas. The caller must Close it.
func (c *Canvas) Snapshot() gocv.Mat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mat.Clone()
}

// Close releases the canvas memory.
func (c *Canvas) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mat.Close()
}

func toPixel(p detector.Point3D, width, height int) image.Point {
	return image.Point{
		X: int(p.X * float64(width)),
		Y: int(p.Y * float64(height)),
	}
}
