// Package detecttest provides scripted detectors for tests.
package detecttest

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"trafficlights/internal/detect"
)

// Groups returns the same group detections for every frame
type Groups struct {
	Detections []detect.Detection
	Err        error
	Calls      int
	Thresholds []float32
}

func (g *Groups) DetectGroups(ctx context.Context, frame gocv.Mat, threshold float32) ([]detect.Detection, error) {
	g.Calls++
	g.Thresholds = append(g.Thresholds, threshold)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.Err != nil {
		return nil, g.Err
	}
	return detect.FilterByConfidence(g.Detections, threshold), nil
}

// Lights returns the same light detections for every crop, and records the
// crops it was given.
type Lights struct {
	Detections []detect.Detection
	Err        error
	Calls      int
	Thresholds []float32
	CropSizes  []image.Point
	// Inspect, if set, is called with every crop before detections are returned
	Inspect func(crop gocv.Mat)
}

func (l *Lights) DetectLights(ctx context.Context, crop gocv.Mat, threshold float32) ([]detect.Detection, error) {
	l.Calls++
	l.Thresholds = append(l.Thresholds, threshold)
	l.CropSizes = append(l.CropSizes, image.Pt(crop.Cols(), crop.Rows()))
	if l.Inspect != nil {
		l.Inspect(crop)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	return detect.FilterByConfidence(l.Detections, threshold), nil
}
