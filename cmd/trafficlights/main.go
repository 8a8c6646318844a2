package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"

	"trafficlights/internal/app"
	"trafficlights/internal/config"
	"trafficlights/internal/geom"
	"trafficlights/internal/logger"
	"trafficlights/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	parser := argparse.NewParser("trafficlights", "Detect traffic light groups and their lights in a video and write an annotated copy")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video (VIDEO_PATH)"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output video (OUTPUT_PATH)"})
	groupModel := parser.String("", "group-model", &argparse.Options{Help: "Group detector model (MODEL_GROUP_PATH)"})
	lightModel := parser.String("", "light-model", &argparse.Options{Help: "Light detector model (MODEL_LIGHT_PATH)"})
	resolution := parser.String("", "resolution", &argparse.Options{Help: "Output resolution WxH, or 'native' (TARGET_RESOLUTION)"})
	device := parser.String("", "device", &argparse.Options{Help: "cpu, cuda, a GPU index, or opencl (DEVICE)"})
	backend := parser.String("", "backend", &argparse.Options{Help: "dnn or http (DETECTOR_BACKEND)"})
	window := parser.Flag("", "window", &argparse.Options{Help: "Show a preview window (SHOW_WINDOW)"})
	previewAddr := parser.String("", "preview-addr", &argparse.Options{Help: "Serve a websocket preview on this address (PREVIEW_ADDR)"})
	journalPath := parser.String("", "journal", &argparse.Options{Help: "Record detections in this sqlite file (JOURNAL_PATH)"})
	maxFrames := parser.Int("", "max-frames", &argparse.Options{Help: "Stop after this many frames (MAX_FRAMES)"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		return fail(app.StageConfig, err)
	}
	if *input != "" {
		cfg.VideoPath = *input
	}
	if *output != "" {
		cfg.OutputPath = *output
	}
	cfg.SetModelPaths(*groupModel, *lightModel)
	if *resolution != "" {
		size, err := geom.ParseSize(*resolution)
		if err != nil {
			return fail(app.StageConfig, err)
		}
		cfg.Resolution = size
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *backend != "" {
		cfg.Backend = strings.ToLower(*backend)
	}
	if *window {
		cfg.ShowWindow = true
	}
	if *previewAddr != "" {
		cfg.PreviewAddr = *previewAddr
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}
	if *maxFrames > 0 {
		cfg.MaxFrames = *maxFrames
	}

	log, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return fail(app.StageConfig, err)
	}
	defer log.Close()

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return report(log, err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := application.Run(ctx); err != nil {
		return report(log, err)
	}
	return 0
}

func report(log *logger.Logger, err error) int {
	stage := "pipeline"
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
		err = stageErr.Err
	}
	log.Error("%s: %v", stage, err)
	return 1
}

func fail(stage string, err error) int {
	fmt.Fprintf(os.Stderr, "trafficlights: %s: %v\n", stage, err)
	return 1
}
