// Package annotate runs the two detection stages over a frame and draws the
// results. Group boxes come from the full frame; light boxes come from crops
// of each group and are moved back into frame coordinates.
package annotate

import (
	"context"
	"fmt"
	"image/color"

	"gocv.io/x/gocv"

	"trafficlights/internal/config"
	"trafficlights/internal/detect"
	"trafficlights/internal/geom"
	"trafficlights/internal/logger"
)

// Options holds the engine thresholds
type Options struct {
	GroupConfidence float32
	LightConfidence float32
	MinCropSize     int // Groups narrower or shorter than this are not cropped
}

func DefaultOptions() Options {
	return Options{
		GroupConfidence: config.DefaultGroupConfidence,
		LightConfidence: config.DefaultLightConfidence,
		MinCropSize:     config.DefaultMinCropSize,
	}
}

// LightResult is a light detection in both coordinate spaces.
type LightResult struct {
	Local      geom.Box // Relative to the group crop
	Box        geom.Box // Relative to the frame
	Label      string   // "red", "green", "yellow", or the raw label
	RawLabel   string   // Class name as reported by the detector
	Confidence float32
	Color      color.RGBA
}

// GroupResult is a clamped group region and the lights found inside it.
type GroupResult struct {
	Box        geom.Box
	Confidence float32
	Lights     []LightResult
	// Skipped is set when the region was too small to crop
	Skipped bool
	// DetectionErr is set when the light detector failed on this region
	DetectionErr error
}

// FrameResult is everything the engine found in one frame
type FrameResult struct {
	Width  int
	Height int
	Groups []GroupResult
	// DetectionErr is set when the group detector failed; Groups is then empty
	DetectionErr error
}

func (r *FrameResult) LightCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Lights)
	}
	return n
}

func (r *FrameResult) SkippedCount() int {
	n := 0
	for _, g := range r.Groups {
		if g.Skipped {
			n++
		}
	}
	return n
}

// FailureCount counts detector failures for the frame and its regions
func (r *FrameResult) FailureCount() int {
	n := 0
	if r.DetectionErr != nil {
		n++
	}
	for _, g := range r.Groups {
		if g.DetectionErr != nil {
			n++
		}
	}
	return n
}

// Engine runs group detection, crops, light detection and coordinate mapping.
type Engine struct {
	groups detect.GroupDetector
	lights detect.LightDetector
	opts   Options
	style  Style
	logger *logger.Logger
}

func NewEngine(groups detect.GroupDetector, lights detect.LightDetector, opts Options, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Engine{
		groups: groups,
		lights: lights,
		opts:   opts,
		style:  DefaultStyle(),
		logger: log,
	}
}

// SetStyle replaces the drawing style used by Annotate
func (e *Engine) SetStyle(s Style) {
	e.style = s
}

// Process runs both detection stages on frame without modifying it.
// Detector failures are logged and recorded on the result, never returned.
// If ctx is cancelled mid-frame, Process returns ctx.Err() and no result.
func (e *Engine) Process(ctx context.Context, frame gocv.Mat) (*FrameResult, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}
	width, height := frame.Cols(), frame.Rows()
	result := &FrameResult{Width: width, Height: height}

	groups, err := e.groups.DetectGroups(ctx, frame, e.opts.GroupConfidence)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		e.logger.Error("Group detection failed, frame passes through unannotated: %v", err)
		result.DetectionErr = err
		return result, nil
	}

	result.Groups = make([]GroupResult, 0, len(groups))
	for _, g := range groups {
		group := e.processGroup(ctx, frame, g, width, height)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Groups = append(result.Groups, group)
	}
	return result, nil
}

func (e *Engine) processGroup(ctx context.Context, frame gocv.Mat, g detect.Detection, width, height int) GroupResult {
	box := g.Box.Clamp(width, height)
	group := GroupResult{Box: box, Confidence: g.Confidence}

	if box.Empty() || box.Width() < e.opts.MinCropSize || box.Height() < e.opts.MinCropSize {
		group.Skipped = true
		return group
	}

	crop := frame.Region(box.Rect())
	defer crop.Close()

	lights, err := e.lights.DetectLights(ctx, crop, e.opts.LightConfidence)
	if err != nil && ctx.Err() != nil {
		return group
	}
	if err != nil {
		e.logger.Error("Light detection failed for group %s: %v", box, err)
		group.DetectionErr = err
		return group
	}

	origin := box.Origin()
	group.Lights = make([]LightResult, 0, len(lights))
	for _, l := range lights {
		label, c := Classify(l.Label)
		group.Lights = append(group.Lights, LightResult{
			Local:      l.Box,
			Box:        l.Box.Translate(origin.X, origin.Y),
			Label:      label,
			RawLabel:   l.Label,
			Confidence: l.Confidence,
			Color:      c,
		})
	}
	return group
}

// Annotate processes frame and returns an annotated copy. The caller owns the
// returned Mat. frame itself is never drawn on.
func (e *Engine) Annotate(ctx context.Context, frame gocv.Mat) (gocv.Mat, *FrameResult, error) {
	result, err := e.Process(ctx, frame)
	if err != nil {
		return gocv.NewMat(), nil, err
	}
	out := frame.Clone()
	if err := Render(&out, result, e.style); err != nil {
		out.Close()
		return gocv.NewMat(), nil, err
	}
	return out, result, nil
}
