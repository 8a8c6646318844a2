package detect

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

// ErrDetectionFailure wraps every error coming out of a detector backend
var ErrDetectionFailure = errors.New("detection failure")

// Detection is a single object found by a detector.
// Box is in the coordinate space of the image the detector was given.
type Detection struct {
	Box        geom.Box `json:"box"`
	Confidence float32  `json:"confidence"`
	ClassID    int      `json:"classID"`
	Label      string   `json:"label,omitempty"` // Empty for group detections
}

func (d Detection) String() string {
	if d.Label == "" {
		return fmt.Sprintf("%v %.2f", d.Box, d.Confidence)
	}
	return fmt.Sprintf("%v %v %.2f", d.Box, d.Label, d.Confidence)
}

// Backend is a black-box object detector: image in, detections out.
// The threshold is a hint that lets the backend discard weak candidates early;
// adapters apply the authoritative filter.
type Backend interface {
	Infer(ctx context.Context, img gocv.Mat, threshold float32) ([]Detection, error)
	Close() error
}

// GroupDetector finds traffic-light groups in a full frame.
// Returned boxes are in frame space, and carry no label.
type GroupDetector interface {
	DetectGroups(ctx context.Context, frame gocv.Mat, threshold float32) ([]Detection, error)
}

// LightDetector finds individual lights inside a group crop.
// Returned boxes are relative to the crop's top-left corner.
type LightDetector interface {
	DetectLights(ctx context.Context, crop gocv.Mat, threshold float32) ([]Detection, error)
}

// FilterByConfidence keeps detections with Confidence >= threshold.
// The input slice is not modified.
func FilterByConfidence(dets []Detection, threshold float32) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
