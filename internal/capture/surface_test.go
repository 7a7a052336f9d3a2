package capture

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestSurface_EmptyUntilDecoded(t *testing.T) {
	s := NewSurface(zerolog.Nop())

	w, h := s.Size()
	assert.Zero(t, w)
	assert.Zero(t, h)

	_, ok := s.Frame()
	assert.False(t, ok)

	// Play without a stream is a no-op
	s.Play()
	assert.False(t, s.Playing())
}

func TestSurface_Playback(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stream := NewMockStream([]*gocv.Mat{&frame}, true)
	s := NewSurface(zerolog.Nop())
	s.Attach(stream)
	s.Play()
	defer s.Detach()

	require.Eventually(t, func() bool {
		w, h := s.Size()
		return w == 640 && h == 480
	}, time.Second, 5*time.Millisecond)

	got, ok := s.Frame()
	require.True(t, ok)
	defer got.Close()
	assert.Equal(t, 640, got.Cols())
	assert.Equal(t, 480, got.Rows())
}

func TestSurface_Detach(t *testing.T) {
	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stream := NewMockStream([]*gocv.Mat{&frame}, true)
	s := NewSurface(zerolog.Nop())
	s.Attach(stream)
	s.Play()

	require.Eventually(t, func() bool {
		_, ok := s.Frame()
		return ok
	}, time.Second, 5*time.Millisecond)

	s.Detach()

	assert.False(t, s.Playing())
	_, ok := s.Frame()
	assert.False(t, ok, "detached surface has no pixels")
	assert.True(t, stream.IsOpen(), "detach leaves the stream to its owner")

	// Detaching twice is harmless
	s.Detach()
}

func TestSurface_PlaybackEndsWhenStreamCloses(t *testing.T) {
	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stream := NewMockStream([]*gocv.Mat{&frame}, true)
	s := NewSurface(zerolog.Nop())
	s.Attach(stream)
	s.Play()
	defer s.Detach()

	require.NoError(t, stream.Close())

	// Playback goroutine notices the closed stream; Detach must not hang.
	done := make(chan struct{})
	go func() {
		s.Detach()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Detach did not return after stream closed")
	}
}
