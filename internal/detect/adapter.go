package detect

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"
)

// GroupAdapter wraps a Backend to implement GroupDetector
type GroupAdapter struct {
	backend Backend
}

func NewGroupAdapter(backend Backend) *GroupAdapter {
	return &GroupAdapter{backend: backend}
}

func (a *GroupAdapter) DetectGroups(ctx context.Context, frame gocv.Mat, threshold float32) ([]Detection, error) {
	if frame.Empty() {
		return nil, nil
	}
	dets, err := a.backend.Infer(ctx, frame, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: group detector: %w", ErrDetectionFailure, err)
	}
	groups := FilterByConfidence(dets, threshold)
	for i := range groups {
		groups[i].Label = ""
	}
	return groups, nil
}

func (a *GroupAdapter) Close() error {
	return a.backend.Close()
}

// LightAdapter wraps a Backend to implement LightDetector
type LightAdapter struct {
	backend Backend
}

func NewLightAdapter(backend Backend) *LightAdapter {
	return &LightAdapter{backend: backend}
}

// DetectLights runs the backend on a crop. An empty crop yields no detections
// without touching the backend.
func (a *LightAdapter) DetectLights(ctx context.Context, crop gocv.Mat, threshold float32) ([]Detection, error) {
	if crop.Empty() || crop.Cols() == 0 || crop.Rows() == 0 {
		return nil, nil
	}
	dets, err := a.backend.Infer(ctx, crop, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: light detector: %w", ErrDetectionFailure, err)
	}
	return FilterByConfidence(dets, threshold), nil
}

func (a *LightAdapter) Close() error {
	return a.backend.Close()
}
