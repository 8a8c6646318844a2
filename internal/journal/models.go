package journal

import (
	"time"

	"trafficlights/internal/geom"
)

const (
	KindGroup = "group"
	KindLight = "light"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run is one pass of the pipeline over an input video
type Run struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Frames     int        `json:"frames"`
	Status     string     `json:"status"`
}

// Detection is one journaled group or light box in frame coordinates
type Detection struct {
	ID         int64    `json:"id"`
	RunID      string   `json:"run_id"`
	Frame      int      `json:"frame"`
	Kind       string   `json:"kind"`
	Label      string   `json:"label"`
	RawLabel   string   `json:"raw_label"`
	Box        geom.Box `json:"box"`
	Confidence float32  `json:"confidence"`
	Skipped    bool     `json:"skipped"`
}
