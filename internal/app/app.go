// Package app builds the pipeline from a Config and runs it.
package app

import (
	"context"
	"fmt"
	"time"

	"trafficlights/internal/annotate"
	"trafficlights/internal/config"
	"trafficlights/internal/detect"
	"trafficlights/internal/geom"
	"trafficlights/internal/journal"
	"trafficlights/internal/logger"
	"trafficlights/internal/pipeline"
	"trafficlights/internal/preview"
	"trafficlights/internal/video"
)

// Stage names for failures while building the app
const (
	StageConfig   = "config"
	StageDetector = "detector"
	StageJournal  = "journal"
	StagePreview  = "preview"
)

const healthTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	groups     *detect.GroupAdapter
	lights     *detect.LightAdapter
	engine     *annotate.Engine
	journal    *journal.Journal
	hub        *preview.Hub
	server     *preview.Server
	presenters []video.Presenter
	stopHub    context.CancelFunc
}

// NewApp loads the detectors and opens the optional journal and preview.
// Errors are *pipeline.StageError naming what failed.
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &pipeline.StageError{Stage: StageConfig, Err: err}
	}

	a := &App{
		config: cfg,
		logger: log,
	}

	groupBackend, lightBackend, err := newBackends(cfg, log)
	if err != nil {
		return nil, &pipeline.StageError{Stage: StageDetector, Err: err}
	}
	a.groups = detect.NewGroupAdapter(groupBackend)
	a.lights = detect.NewLightAdapter(lightBackend)
	a.engine = annotate.NewEngine(a.groups, a.lights, annotate.Options{
		GroupConfidence: cfg.GroupConfidence,
		LightConfidence: cfg.LightConfidence,
		MinCropSize:     cfg.MinCropSize,
	}, log)

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			a.Close()
			return nil, &pipeline.StageError{Stage: StageJournal, Err: err}
		}
		a.journal = j
		log.Info("Journaling detections to %s", cfg.JournalPath)
	}

	if cfg.PreviewAddr != "" {
		a.hub = preview.NewHub(log)
		ctx, cancel := context.WithCancel(context.Background())
		a.stopHub = cancel
		go a.hub.Run(ctx)

		a.server = preview.NewServer(a.hub, log)
		a.server.ServeLogs(cfg.LogDirectory)
		if err := a.server.Start(cfg.PreviewAddr); err != nil {
			a.Close()
			return nil, &pipeline.StageError{Stage: StagePreview, Err: err}
		}
		a.presenters = append(a.presenters, a.hub)
	}

	if cfg.ShowWindow {
		a.presenters = append(a.presenters, video.NewWindowPreview("Traffic lights", cfg.QuitKey))
	}

	return a, nil
}

func newBackends(cfg *config.Config, log *logger.Logger) (detect.Backend, detect.Backend, error) {
	switch cfg.Backend {
	case "http":
		group := detect.NewHTTPBackend(cfg.GroupServiceURL, 0)
		light := detect.NewHTTPBackend(cfg.LightServiceURL, 0)
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		if err := group.CheckHealth(ctx); err != nil {
			return nil, nil, fmt.Errorf("group detector: %w", err)
		}
		if err := light.CheckHealth(ctx); err != nil {
			return nil, nil, fmt.Errorf("light detector: %w", err)
		}
		log.Info("Using remote detectors %s and %s", cfg.GroupServiceURL, cfg.LightServiceURL)
		return group, light, nil

	default:
		log.Info("Loading models...")
		group, err := detect.NewDNNBackend(detect.DNNOptions{
			ModelPath:    cfg.GroupModelPath,
			ClassesPath:  cfg.GroupClassesPath,
			Device:       cfg.Device,
			InputSize:    cfg.InputSize,
			NMSThreshold: cfg.NMSThreshold,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("group model: %w", err)
		}
		light, err := detect.NewDNNBackend(detect.DNNOptions{
			ModelPath:    cfg.LightModelPath,
			ClassesPath:  cfg.LightClassesPath,
			Device:       cfg.Device,
			InputSize:    cfg.InputSize,
			NMSThreshold: cfg.NMSThreshold,
		}, log)
		if err != nil {
			group.Close()
			return nil, nil, fmt.Errorf("light model: %w", err)
		}
		return group, light, nil
	}
}

// Driver returns a pipeline driver for the configured input and output.
func (a *App) Driver() *pipeline.Driver {
	cfg := a.config
	opts := pipeline.Options{
		OpenSource: func() (video.Source, error) {
			return video.OpenFile(cfg.VideoPath, cfg.Resolution)
		},
		OpenSink: func(fps float64, size geom.Size) (video.Sink, error) {
			return video.CreateFile(cfg.OutputPath, cfg.Codec, fps, size)
		},
		Presenters: a.presenters,
		Input:      cfg.VideoPath,
		Output:     cfg.OutputPath,
		MaxFrames:  cfg.MaxFrames,
		OnStateChange: func(from, to pipeline.State) {
			a.logger.Info("Pipeline %s -> %s", from, to)
		},
	}
	if a.journal != nil {
		opts.Recorder = a.journal
	}
	return pipeline.NewDriver(a.engine, opts, a.logger)
}

// Run processes the video once.
func (a *App) Run(ctx context.Context) (*pipeline.Stats, error) {
	if a.server != nil {
		a.logger.Info("Preview: http://%s", a.server.Addr())
	}
	a.logger.Info("Processing video frames (resolution %s)...", a.config.Resolution)

	stats, err := a.Driver().Run(ctx)
	if err != nil {
		return stats, err
	}
	a.logger.Info("Done! Saved to %s", a.config.OutputPath)
	return stats, nil
}

// Close releases the detectors, journal and preview server.
func (a *App) Close() error {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.server.Shutdown(ctx)
		cancel()
	}
	if a.hub != nil {
		a.stopHub()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warning("Failed to close journal: %v", err)
		}
	}
	if a.groups != nil {
		a.groups.Close()
	}
	if a.lights != nil {
		a.lights.Close()
	}
	return nil
}
