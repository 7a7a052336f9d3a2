package capture

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when there are no pixels to encode.
var ErrEmptyFrame = errors.New("frame is empty")

// EncodeJPEG downscales frame by factor (0 < factor <= 1) and encodes the
// result as JPEG at quality 0-100.
func EncodeJPEG(frame *gocv.Mat, factor float64, quality int) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	src := *frame
	if factor > 0 && factor < 1 {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(*frame, &small, image.Point{}, factor, factor, gocv.InterpolationArea)
		if small.Empty() {
			return nil, ErrEmptyFrame
		}
		src = small
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
