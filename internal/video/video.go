// Package video reads frames from a video file, writes annotated frames to a
// new one, and mirrors them to optional live previews.
package video

import (
	"errors"

	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

var (
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrSinkUnavailable   = errors.New("video sink unavailable")
	// ErrQuit is returned by a Presenter when the viewer asked to stop
	ErrQuit = errors.New("quit requested")
)

// Source yields frames in order. Next returns io.EOF once the stream is
// exhausted. The caller owns every returned Mat.
type Source interface {
	Next() (gocv.Mat, error)
	FPS() float64
	Size() geom.Size
	Close() error
}

// Sink consumes annotated frames in order.
type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// Presenter mirrors frames to a viewer. It does not take ownership of frame.
type Presenter interface {
	Show(frame gocv.Mat) error
	Close() error
}
