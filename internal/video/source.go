package video

import (
	"fmt"
	"io"
	"os"

	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

const defaultFPS = 30

// FileSource reads frames from a video file and optionally resizes them.
type FileSource struct {
	capture *gocv.VideoCapture
	path    string
	fps     float64
	native  geom.Size
	target  geom.Size
}

// OpenFile opens path for reading. A zero target keeps the native size.
func OpenFile(path string, target geom.Size) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: cannot open %s", ErrSourceUnavailable, path)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFPS
	}

	return &FileSource{
		capture: capture,
		path:    path,
		fps:     fps,
		native: geom.Size{
			Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		},
		target: target,
	}, nil
}

// Next returns the next frame, resized to the target size if one was set.
func (s *FileSource) Next() (gocv.Mat, error) {
	img := gocv.NewMat()
	if ok := s.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return gocv.NewMat(), io.EOF
	}

	if s.target.IsZero() || (img.Cols() == s.target.Width && img.Rows() == s.target.Height) {
		return img, nil
	}

	resized := gocv.NewMat()
	err := gocv.Resize(img, &resized, s.target.Point(), 0, 0, gocv.InterpolationLinear)
	img.Close()
	if err != nil {
		resized.Close()
		return gocv.NewMat(), fmt.Errorf("failed to resize frame to %s: %w", s.target, err)
	}
	return resized, nil
}

// FPS is the container frame rate, or 30 when the container does not say.
func (s *FileSource) FPS() float64 {
	return s.fps
}

// Size is the size of the frames Next returns
func (s *FileSource) Size() geom.Size {
	if !s.target.IsZero() {
		return s.target
	}
	return s.native
}

func (s *FileSource) NativeSize() geom.Size {
	return s.native
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Close() error {
	return s.capture.Close()
}
