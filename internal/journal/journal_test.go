package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trafficlights/internal/annotate"
	"trafficlights/internal/geom"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	_, err = os.Stat(path)
	require.NoError(t, err)
	return j
}

func sampleResult() *annotate.FrameResult {
	return &annotate.FrameResult{
		Width:  200,
		Height: 200,
		Groups: []annotate.GroupResult{
			{
				Box:        geom.NewBox(50, 50, 150, 150),
				Confidence: 0.9,
				Lights: []annotate.LightResult{
					{Box: geom.NewBox(60, 60, 80, 80), Label: "red", RawLabel: "red_signal", Confidence: 0.8},
					{Box: geom.NewBox(60, 90, 80, 110), Label: "green", RawLabel: "Green", Confidence: 0.5},
				},
			},
			{Box: geom.NewBox(0, 0, 4, 4), Confidence: 0.6, Skipped: true},
		},
	}
}

func TestRunLifecycle(t *testing.T) {
	j := openJournal(t)
	require.Empty(t, j.RunID())
	require.ErrorIs(t, j.RecordFrame(1, sampleResult()), ErrNoRun)

	require.NoError(t, j.BeginRun("in.mp4", "out.mp4"))
	id := j.RunID()
	require.Len(t, id, 36)

	run, err := j.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, run.Status)
	require.Equal(t, "in.mp4", run.Input)
	require.Nil(t, run.FinishedAt)

	require.NoError(t, j.RecordFrame(1, sampleResult()))
	require.NoError(t, j.RecordFrame(2, sampleResult()))
	require.NoError(t, j.RecordFrame(3, &annotate.FrameResult{}))
	require.NoError(t, j.FinishRun(3, StatusCompleted))

	run, err = j.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	require.Equal(t, 3, run.Frames)
	require.NotNil(t, run.FinishedAt)

	groups, err := j.CountDetections(id, KindGroup)
	require.NoError(t, err)
	require.Equal(t, 4, groups)
	lights, err := j.CountDetections(id, KindLight)
	require.NoError(t, err)
	require.Equal(t, 4, lights)

	counts, err := j.LabelCounts(id)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"red": 2, "green": 2}, counts)
}

func TestGetByFrame(t *testing.T) {
	j := openJournal(t)
	require.NoError(t, j.BeginRun("in.mp4", "out.mp4"))
	require.NoError(t, j.RecordFrame(7, sampleResult()))

	dets, err := j.GetByFrame(j.RunID(), 7)
	require.NoError(t, err)
	require.Len(t, dets, 4)

	require.Equal(t, KindGroup, dets[0].Kind)
	require.Equal(t, geom.NewBox(50, 50, 150, 150), dets[0].Box)
	require.False(t, dets[0].Skipped)
	require.True(t, dets[1].Skipped)

	require.Equal(t, KindLight, dets[2].Kind)
	require.Equal(t, "red", dets[2].Label)
	require.Equal(t, "red_signal", dets[2].RawLabel)
	require.Equal(t, geom.NewBox(60, 60, 80, 80), dets[2].Box)
	require.InDelta(t, 0.8, dets[2].Confidence, 1e-6)

	none, err := j.GetByFrame(j.RunID(), 8)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRunsAreSeparate(t *testing.T) {
	j := openJournal(t)
	require.NoError(t, j.BeginRun("a.mp4", "a_out.mp4"))
	first := j.RunID()
	require.NoError(t, j.RecordFrame(1, sampleResult()))
	require.NoError(t, j.FinishRun(1, StatusCancelled))

	require.NoError(t, j.BeginRun("b.mp4", "b_out.mp4"))
	require.NotEqual(t, first, j.RunID())

	n, err := j.CountDetections(j.RunID(), KindLight)
	require.NoError(t, err)
	require.Zero(t, n)

	run, err := j.GetRun(first)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, run.Status)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.BeginRun("in.mp4", "out.mp4"))
	id := j.RunID()
	require.NoError(t, j.RecordFrame(1, sampleResult()))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	n, err := j.CountDetections(id, KindGroup)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestConcurrentWritesShareOneConnection(t *testing.T) {
	j := openJournal(t)
	require.NoError(t, j.BeginRun("in.mp4", "out.mp4"))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(frame int) {
			defer wg.Done()
			errs <- j.RecordFrame(frame, sampleResult())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lights, err := j.CountDetections(j.RunID(), KindLight)
	require.NoError(t, err)
	require.Equal(t, 32, lights)
	groups, err := j.CountDetections(j.RunID(), KindGroup)
	require.NoError(t, err)
	require.Equal(t, 32, groups)
}
