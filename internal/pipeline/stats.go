package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"trafficlights/internal/annotate"
)

// Stats summarizes a run
type Stats struct {
	Frames            int
	Groups            int
	Lights            int
	SkippedRegions    int
	DetectionFailures int
	Labels            map[string]int // Light count per canonical label
	Cancelled         bool
	Elapsed           time.Duration
}

func newStats() *Stats {
	return &Stats{Labels: make(map[string]int)}
}

func (s *Stats) add(r *annotate.FrameResult) {
	s.Frames++
	if r == nil {
		return
	}
	s.Groups += len(r.Groups)
	s.Lights += r.LightCount()
	s.SkippedRegions += r.SkippedCount()
	s.DetectionFailures += r.FailureCount()
	for _, g := range r.Groups {
		for _, l := range g.Lights {
			s.Labels[l.Label]++
		}
	}
}

// FPS is the processing rate, not the video frame rate
func (s *Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

func (s *Stats) String() string {
	labels := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	parts := make([]string, 0, len(labels))
	for _, k := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Labels[k]))
	}
	return fmt.Sprintf("frames=%d groups=%d lights=%d [%s] skipped=%d failures=%d cancelled=%t elapsed=%s (%.1f fps)",
		s.Frames, s.Groups, s.Lights, strings.Join(parts, " "), s.SkippedRegions, s.DetectionFailures,
		s.Cancelled, s.Elapsed.Round(time.Millisecond), s.FPS())
}
