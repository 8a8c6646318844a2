package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"trafficlights/internal/geom"
)

const (
	DefaultGroupConfidence = 0.4
	DefaultLightConfidence = 0.25
	DefaultMinCropSize     = 10
)

type Config struct {
	GroupModelPath   string
	LightModelPath   string
	GroupClassesPath string
	LightClassesPath string
	VideoPath        string
	OutputPath       string
	Device           string    // cpu, cuda (or a GPU index), opencl
	Resolution       geom.Size // zero = keep the input resolution
	GroupConfidence  float32
	LightConfidence  float32
	MinCropSize      int     // Regions narrower or shorter than this are not searched for lights
	NMSThreshold     float32 // IoU above which overlapping detections are merged by the DNN backend
	InputSize        int     // Square network input size of the DNN backend
	Backend          string  // dnn or http
	GroupServiceURL  string
	LightServiceURL  string
	Codec            string
	ShowWindow       bool
	QuitKey          string
	PreviewAddr      string // Websocket preview listen address; empty disables it
	JournalPath      string // Sqlite detection journal; empty disables it
	LogDirectory     string
	MaxFrames        int // 0 = process the whole stream
}

// Load reads .env (if present) and the process environment.
// Values that fail to parse fall back to their defaults; Validate reports
// semantic problems.
func Load() (*Config, error) {
	// A missing .env is normal, anything else is worth reporting
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	resolution, err := geom.ParseSize(getEnv("TARGET_RESOLUTION", "1280x720"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		GroupModelPath:   getEnv("MODEL_GROUP_PATH", filepath.Join("weights", "default_groups.onnx")),
		LightModelPath:   getEnv("MODEL_LIGHT_PATH", filepath.Join("weights", "default_lights.onnx")),
		GroupClassesPath: getEnv("GROUP_CLASSES_PATH", ""),
		LightClassesPath: getEnv("LIGHT_CLASSES_PATH", ""),
		VideoPath:        getEnv("VIDEO_PATH", "input.mp4"),
		OutputPath:       getEnv("OUTPUT_PATH", "output.mp4"),
		Device:           getEnv("DEVICE", "cpu"),
		Resolution:       resolution,
		GroupConfidence:  getEnvAsFloat32("GROUP_CONFIDENCE", DefaultGroupConfidence),
		LightConfidence:  getEnvAsFloat32("LIGHT_CONFIDENCE", DefaultLightConfidence),
		MinCropSize:      getEnvAsInt("MIN_CROP_SIZE", DefaultMinCropSize),
		NMSThreshold:     getEnvAsFloat32("NMS_THRESHOLD", 0.45),
		InputSize:        getEnvAsInt("DETECTOR_INPUT_SIZE", 640),
		Backend:          strings.ToLower(getEnv("DETECTOR_BACKEND", "dnn")),
		GroupServiceURL:  getEnv("GROUP_DETECTOR_URL", ""),
		LightServiceURL:  getEnv("LIGHT_DETECTOR_URL", ""),
		Codec:            getEnv("OUTPUT_CODEC", "mp4v"),
		ShowWindow:       getEnvAsBool("SHOW_WINDOW", false),
		QuitKey:          getEnv("QUIT_KEY", "q"),
		PreviewAddr:      getEnv("PREVIEW_ADDR", ""),
		JournalPath:      getEnv("JOURNAL_PATH", ""),
		LogDirectory:     getEnv("LOG_DIR", "logs"),
		MaxFrames:        getEnvAsInt("MAX_FRAMES", 0),
	}
	cfg.fillClassPaths()
	return cfg, nil
}

// fillClassPaths defaults the class name files to "<model>.names"
func (c *Config) fillClassPaths() {
	if c.GroupClassesPath == "" {
		c.GroupClassesPath = classesPathFor(c.GroupModelPath)
	}
	if c.LightClassesPath == "" {
		c.LightClassesPath = classesPathFor(c.LightModelPath)
	}
}

func classesPathFor(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".names"
}

// SetModelPaths replaces the model paths and re-derives the default class files
func (c *Config) SetModelPaths(group, light string) {
	if group != "" && group != c.GroupModelPath {
		if c.GroupClassesPath == classesPathFor(c.GroupModelPath) {
			c.GroupClassesPath = classesPathFor(group)
		}
		c.GroupModelPath = group
	}
	if light != "" && light != c.LightModelPath {
		if c.LightClassesPath == classesPathFor(c.LightModelPath) {
			c.LightClassesPath = classesPathFor(light)
		}
		c.LightModelPath = light
	}
}

// Validate checks the configuration for values the pipeline cannot work with
func (c *Config) Validate() error {
	if c.VideoPath == "" {
		return fmt.Errorf("VIDEO_PATH is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("OUTPUT_PATH is required")
	}
	if c.GroupConfidence < 0 || c.GroupConfidence > 1 {
		return fmt.Errorf("GROUP_CONFIDENCE must be between 0 and 1, got %v", c.GroupConfidence)
	}
	if c.LightConfidence < 0 || c.LightConfidence > 1 {
		return fmt.Errorf("LIGHT_CONFIDENCE must be between 0 and 1, got %v", c.LightConfidence)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS_THRESHOLD must be in (0, 1], got %v", c.NMSThreshold)
	}
	if c.MinCropSize < 1 {
		return fmt.Errorf("MIN_CROP_SIZE must be at least 1, got %d", c.MinCropSize)
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("DETECTOR_INPUT_SIZE must be a positive multiple of 32, got %d", c.InputSize)
	}
	if len(c.Codec) != 4 {
		return fmt.Errorf("OUTPUT_CODEC must be a four character code, got %q", c.Codec)
	}
	if len(c.QuitKey) != 1 {
		return fmt.Errorf("QUIT_KEY must be a single character, got %q", c.QuitKey)
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("MAX_FRAMES must not be negative")
	}
	switch c.Backend {
	case "dnn":
		if c.GroupModelPath == "" || c.LightModelPath == "" {
			return fmt.Errorf("MODEL_GROUP_PATH and MODEL_LIGHT_PATH are required for the dnn backend")
		}
	case "http":
		if c.GroupServiceURL == "" || c.LightServiceURL == "" {
			return fmt.Errorf("GROUP_DETECTOR_URL and LIGHT_DETECTOR_URL are required for the http backend")
		}
	default:
		return fmt.Errorf("unknown DETECTOR_BACKEND %q (expected dnn or http)", c.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
