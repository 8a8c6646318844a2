package video

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

const DefaultCodec = "mp4v"

// FileSink encodes frames of a fixed size into a video file.
type FileSink struct {
	writer *gocv.VideoWriter
	path   string
	size   geom.Size
	frames int
}

// CreateFile opens path for writing with the given fourcc codec. Every frame
// written must be exactly size.
func CreateFile(path, codec string, fps float64, size geom.Size) (*FileSink, error) {
	if size.IsZero() {
		return nil, fmt.Errorf("%w: frame size is not set", ErrSinkUnavailable)
	}
	if codec == "" {
		codec = DefaultCodec
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSinkUnavailable, path, err)
		}
	}

	writer, err := gocv.VideoWriterFile(path, codec, fps, size.Width, size.Height, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSinkUnavailable, path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("%w: cannot open %s with codec %s", ErrSinkUnavailable, path, codec)
	}

	return &FileSink{
		writer: writer,
		path:   path,
		size:   size,
	}, nil
}

func (s *FileSink) Write(frame gocv.Mat) error {
	if frame.Cols() != s.size.Width || frame.Rows() != s.size.Height {
		return fmt.Errorf("frame is %dx%d, sink expects %s", frame.Cols(), frame.Rows(), s.size)
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame %d to %s: %w", s.frames, s.path, err)
	}
	s.frames++
	return nil
}

// Frames returns how many frames were written
func (s *FileSink) Frames() int {
	return s.frames
}

// Close finalizes the container.
func (s *FileSink) Close() error {
	return s.writer.Close()
}
