// Package pipeline drives frames from a source through the annotation engine
// into a sink, one frame at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"trafficlights/internal/annotate"
	"trafficlights/internal/geom"
	"trafficlights/internal/journal"
	"trafficlights/internal/logger"
	"trafficlights/internal/video"
)

// Annotator turns a frame into an annotated copy. *annotate.Engine implements it.
type Annotator interface {
	Annotate(ctx context.Context, frame gocv.Mat) (gocv.Mat, *annotate.FrameResult, error)
}

// Recorder persists per-frame results. *journal.Journal implements it.
type Recorder interface {
	BeginRun(input, output string) error
	RecordFrame(frame int, result *annotate.FrameResult) error
	FinishRun(frames int, status string) error
}

// Options wires the driver to its collaborators
type Options struct {
	// OpenSource is called once when the run starts
	OpenSource func() (video.Source, error)
	// OpenSink is called once the source is open, with its frame rate and size
	OpenSink func(fps float64, size geom.Size) (video.Sink, error)

	Presenters []video.Presenter // Optional. Closed when the run ends
	Recorder   Recorder          // Optional

	Input  string // Recorded with the run
	Output string // Recorded with the run

	MaxFrames int // 0 means no limit

	OnStateChange func(from, to State)
}

// Driver runs the pipeline once.
type Driver struct {
	engine Annotator
	opts   Options
	logger *logger.Logger
	state  atomic.Int32
}

func NewDriver(engine Annotator, opts Options, log *logger.Logger) *Driver {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Driver{
		engine: engine,
		opts:   opts,
		logger: log,
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(to State) {
	from := State(d.state.Swap(int32(to)))
	if from != to && d.opts.OnStateChange != nil {
		d.opts.OnStateChange(from, to)
	}
}

// Run processes the whole input. It returns nil when the input is exhausted,
// the frame limit is reached, or the run is cancelled through ctx or a
// presenter; frames written so far are kept in every case. Source and sink
// failures are returned as *StageError. Everything opened is closed before
// Run returns.
func (d *Driver) Run(ctx context.Context) (*Stats, error) {
	if d.State() != StateIdle {
		return nil, fmt.Errorf("driver already ran (state %s)", d.State())
	}

	start := time.Now()
	stats := newStats()
	err := d.run(ctx, stats)
	stats.Elapsed = time.Since(start)
	d.setState(StateClosed)

	if err != nil {
		d.logger.Error("Pipeline failed after %d frames: %v", stats.Frames, err)
	} else {
		d.logger.Info("Pipeline finished: %s", stats)
	}
	return stats, err
}

func (d *Driver) run(ctx context.Context, stats *Stats) (err error) {
	d.setState(StateOpening)
	defer d.closePresenters()

	src, err := d.opts.OpenSource()
	if err != nil {
		return &StageError{Stage: StageSource, Err: err}
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			d.logger.Warning("Failed to close source: %v", cerr)
		}
	}()

	sink, err := d.opts.OpenSink(src.FPS(), src.Size())
	if err != nil {
		return &StageError{Stage: StageSink, Err: err}
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = &StageError{Stage: StageSink, Err: cerr}
		}
	}()

	recorder := d.beginRecording()
	defer func() {
		if recorder == nil {
			return
		}
		status := journal.StatusCompleted
		switch {
		case err != nil:
			status = journal.StatusFailed
		case stats.Cancelled:
			status = journal.StatusCancelled
		}
		if ferr := recorder.FinishRun(stats.Frames, status); ferr != nil {
			d.logger.Warning("Failed to finish journal run: %v", ferr)
		}
	}()

	d.logger.Info("Processing %s at %s, %.2f fps", d.opts.Input, src.Size(), src.FPS())
	d.setState(StateRunning)

	presenters := append([]video.Presenter(nil), d.opts.Presenters...)
	for {
		if ctx.Err() != nil {
			stats.Cancelled = true
			d.setState(StateCancelled)
			return nil
		}
		if d.opts.MaxFrames > 0 && stats.Frames >= d.opts.MaxFrames {
			d.setState(StateDraining)
			return nil
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			d.setState(StateDraining)
			return nil
		}
		if err != nil {
			return &StageError{Stage: StageSource, Err: err}
		}

		out, result, err := d.engine.Annotate(ctx, frame)
		frame.Close()
		if err != nil && ctx.Err() != nil {
			// The interrupted frame is not written
			stats.Cancelled = true
			d.setState(StateCancelled)
			return nil
		}
		if err != nil {
			return &StageError{Stage: StageAnnotate, Err: err}
		}

		if err := sink.Write(out); err != nil {
			out.Close()
			return &StageError{Stage: StageSink, Err: err}
		}
		stats.add(result)

		if recorder != nil {
			if err := recorder.RecordFrame(stats.Frames, result); err != nil {
				d.logger.Warning("Failed to journal frame %d: %v", stats.Frames, err)
			}
		}

		var quit bool
		presenters, quit = d.present(presenters, out)
		out.Close()
		if quit {
			stats.Cancelled = true
			d.setState(StateCancelled)
			return nil
		}
	}
}

func (d *Driver) beginRecording() Recorder {
	if d.opts.Recorder == nil {
		return nil
	}
	if err := d.opts.Recorder.BeginRun(d.opts.Input, d.opts.Output); err != nil {
		d.logger.Warning("Journal disabled for this run: %v", err)
		return nil
	}
	return d.opts.Recorder
}

// present shows out on every presenter. A presenter that fails is dropped for
// the rest of the run. quit reports whether any viewer asked to stop.
func (d *Driver) present(presenters []video.Presenter, out gocv.Mat) ([]video.Presenter, bool) {
	quit := false
	kept := presenters[:0]
	for _, p := range presenters {
		err := p.Show(out)
		switch {
		case errors.Is(err, video.ErrQuit):
			quit = true
			kept = append(kept, p)
		case err != nil:
			d.logger.Warning("Preview disabled: %v", err)
		default:
			kept = append(kept, p)
		}
	}
	return kept, quit
}

func (d *Driver) closePresenters() {
	for _, p := range d.opts.Presenters {
		if err := p.Close(); err != nil {
			d.logger.Warning("Failed to close preview: %v", err)
		}
	}
}
