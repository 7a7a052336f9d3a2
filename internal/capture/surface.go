package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Surface is the shared video surface. A stream attached to it is played
// back on a background goroutine that keeps the most recent decoded frame.
// Readers take clones of that frame and never consume the stream
// themselves, so several consumers can sample it at their own cadence.
type Surface struct {
	log zerolog.Logger

	mu       sync.RWMutex
	stream   Stream
	frame    gocv.Mat
	hasFrame bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSurface creates an empty surface.
func NewSurface(log zerolog.Logger) *Surface {
	return &Surface{
		log: log.With().Str("component", "surface").Logger(),
	}
}

// Attach makes stream the surface source, detaching any previous stream.
// Playback starts with Play.
func (s *Surface) Attach(stream Stream) {
	s.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
}

// Play starts decoding frames from the attached stream. It is a no-op when
// nothing is attached or playback is already running.
func (s *Surface) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil || s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.playback(s.stream, s.stop, s.done)
}

// Detach stops playback and drops the attached stream and its last frame.
// The stream itself is not closed; its owner does that.
func (s *Surface) Detach() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.stream = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
}

// Size returns the pixel dimensions of the current frame, or zeros before
// the first frame was decoded.
func (s *Surface) Size() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasFrame {
		return 0, 0
	}
	return s.frame.Cols(), s.frame.Rows()
}

// Frame returns a copy of the current frame. ok is false while the surface
// has no decoded pixels. The caller must Close the returned Mat.
func (s *Surface) Frame() (frame *gocv.Mat, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasFrame || s.frame.Empty() || s.frame.Cols() == 0 || s.frame.Rows() == 0 {
		return nil, false
	}

	clone := s.frame.Clone()
	return &clone, true
}

// Playing reports whether a stream is being decoded.
func (s *Surface) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stop != nil
}

func (s *Surface) playback(stream Stream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	fps := stream.FPS()
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mat, err := stream.ReadFrame()
			if err != nil {
				if errors.Is(err, ErrCameraNotOpen) || !stream.IsOpen() {
					s.log.Debug().Msg("stream closed, playback ended")
					return
				}
				continue
			}
			s.store(mat)
		}
	}
}

func (s *Surface) store(mat *gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasFrame {
		s.frame.Close()
	}
	s.frame = *mat
	s.hasFrame = true
}
