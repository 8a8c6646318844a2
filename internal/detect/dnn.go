package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
	"trafficlights/internal/logger"
)

// DNNOptions configures a DNNBackend
type DNNOptions struct {
	ModelPath    string
	ClassesPath  string // Optional. Without it, labels are "class<N>"
	Device       string // cpu, cuda (or a GPU index such as "0"), cuda-fp16, opencl
	InputSize    int    // Square network input, eg 640
	NMSThreshold float32
}

// DNNBackend runs a YOLOv8-style ONNX model through the OpenCV DNN module.
// The model output is expected as [1, 4+numClasses, numCandidates], with
// boxes given as center x, center y, width, height in network input pixels.
type DNNBackend struct {
	net       gocv.Net
	classes   []string
	inputSize int
	nms       float32
	logger    *logger.Logger
}

// NewDNNBackend loads the network and sets backend/target preferences.
func NewDNNBackend(opts DNNOptions, logger *logger.Logger) (*DNNBackend, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", opts.ModelPath, err)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = 0.45
	}

	var classes []string
	if opts.ClassesPath != "" {
		c, err := LoadClassFile(opts.ClassesPath)
		if err != nil {
			logger.Warning("Could not load class names from %s: %v", opts.ClassesPath, err)
		} else {
			classes = c
		}
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s", opts.ModelPath)
	}

	backend, target := deviceToNet(opts.Device)
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target for device %q", opts.Device)
	}

	logger.Info("Detection network %s initialized (device %s, %d classes)", opts.ModelPath, deviceName(opts.Device), len(classes))

	return &DNNBackend{
		net:       net,
		classes:   classes,
		inputSize: opts.InputSize,
		nms:       opts.NMSThreshold,
		logger:    logger,
	}, nil
}

func deviceName(device string) string {
	if device == "" {
		return "cpu"
	}
	return device
}

// deviceToNet maps a device selector onto an OpenCV DNN backend/target pair.
// A bare number selects CUDA, mirroring how GPU indices are usually given.
func deviceToNet(device string) (gocv.NetBackendType, gocv.NetTargetType) {
	d := strings.ToLower(strings.TrimSpace(device))
	switch {
	case d == "cuda-fp16":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16
	case d == "cuda" || d == "gpu" || isDigits(d):
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case d == "opencl":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (b *DNNBackend) Classes() []string {
	return b.classes
}

// Infer runs the network on img and returns boxes in img pixel space.
func (b *DNNBackend) Infer(ctx context.Context, img gocv.Mat, threshold float32) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, fmt.Errorf("image is empty")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(b.inputSize, b.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	output := b.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected network output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	candidates := decodeYOLO(data, dims[1], dims[2], threshold,
		float32(img.Cols())/float32(b.inputSize), float32(img.Rows())/float32(b.inputSize))
	if len(candidates) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Box.Rect()
		scores[i] = c.Confidence
	}
	keep := gocv.NMSBoxes(rects, scores, threshold, b.nms)

	results := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		d := candidates[idx]
		d.Label = ClassName(b.classes, d.ClassID)
		results = append(results, d)
	}
	return results, nil
}

// decodeYOLO turns a [rows x n] column-major YOLOv8 head into candidate
// detections. Rows 0..3 are cx, cy, w, h; the remaining rows are class scores.
// sx, sy scale from network input space back to image space.
func decodeYOLO(data []float32, rows, n int, threshold, sx, sy float32) []Detection {
	if len(data) < rows*n {
		return nil
	}
	var out []Detection
	for i := 0; i < n; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 4; c < rows; c++ {
			if s := data[c*n+i]; s > bestScore {
				bestScore = s
				bestClass = c - 4
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}
		cx := data[i] * sx
		cy := data[n+i] * sy
		w := data[2*n+i] * sx
		h := data[3*n+i] * sy
		x1 := math32.Floor(cx - w/2 + 0.5)
		y1 := math32.Floor(cy - h/2 + 0.5)
		x2 := math32.Floor(cx + w/2 + 0.5)
		y2 := math32.Floor(cy + h/2 + 0.5)
		out = append(out, Detection{
			Box:        geom.NewBox(int(x1), int(y1), int(x2), int(y2)),
			Confidence: bestScore,
			ClassID:    bestClass,
		})
	}
	return out
}

func (b *DNNBackend) Close() error {
	return b.net.Close()
}
