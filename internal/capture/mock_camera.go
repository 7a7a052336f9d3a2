package capture

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockSource hands out MockStreams over pre-recorded frames for testing.
type MockSource struct {
	mu      sync.Mutex
	frames  []*gocv.Mat
	loop    bool
	err     error
	streams []*MockStream
}

// NewMockSource creates a MockSource whose streams play back frames.
func NewMockSource(frames []*gocv.Mat, loop bool) *MockSource {
	return &MockSource{
		frames: frames,
		loop:   loop,
	}
}

// SetError makes subsequent Open calls fail with err.
func (s *MockSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Open returns a new MockStream or the configured error.
func (s *MockSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	stream := NewMockStream(s.frames, s.loop)
	s.streams = append(s.streams, stream)
	return stream, nil
}

// Streams returns every stream opened so far.
func (s *MockSource) Streams() []*MockStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockStream(nil), s.streams...)
}

// MockStream plays back pre-recorded frames for testing.
type MockStream struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
	stops   int
}

// NewMockStream creates an open stream over frames.
func NewMockStream(frames []*gocv.Mat, loop bool) *MockStream {
	return &MockStream{
		frames:  frames,
		loop:    loop,
		running: true,
	}
}

// Close stops the stream. Only the first call releases anything.
func (c *MockStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.stops++
	}
	c.running = false
	return nil
}

// Stops returns how many times Close actually stopped the stream.
func (c *MockStream) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *MockStream) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockStream) FPS() int { return 100 }

func (c *MockStream) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset restarts playback from the beginning
func (c *MockStream) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
