package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/overlay"
)

// Preview pacing.
const (
	StreamInterval = 66 * time.Millisecond // ~15 FPS
	noFrameBackoff = 100 * time.Millisecond
)

// FrameSource provides the most recent video frame.
type FrameSource interface {
	Frame() (frame *gocv.Mat, ok bool)
}

// StreamHandler serves MJPEG frames from the shared video surface with the
// hand overlay drawn on top.
type StreamHandler struct {
	frames  FrameSource
	overlay *overlay.Canvas
	mirror  bool
}

// NewStreamHandler creates a new StreamHandler. overlay may be nil.
func NewStreamHandler(frames FrameSource, overlay *overlay.Canvas, mirror bool) *StreamHandler {
	return &StreamHandler{frames: frames, overlay: overlay, mirror: mirror}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	for {
		buf, ok := h.render()
		if !ok {
			if !sleep(ctx, noFrameBackoff) {
				return
			}
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		w.Write(buf)
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		if !sleep(ctx, StreamInterval) {
			return
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// render composites the overlay onto the current frame and encodes it.
func (h *StreamHandler) render() ([]byte, bool) {
	frame, ok := h.frames.Frame()
	if !ok {
		return nil, false
	}
	defer frame.Close()

	if h.overlay != nil {
		h.overlay.Composite(frame)
	}

	if h.mirror {
		gocv.Flip(*frame, frame, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, false
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), true
}
