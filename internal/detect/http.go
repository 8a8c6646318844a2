package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

// HTTPBackend sends images to a remote YOLO inference service.
//
// The service accepts POST {endpoint}/detect?conf=<threshold> with a multipart
// "image" field holding a JPEG, and answers with JSON detections whose bbox is
// [x1, y1, x2, y2] in pixels of the submitted image.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

type serviceDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"`
}

type serviceResult struct {
	Detections      []serviceDetection `json:"detections"`
	Count           int                `json:"count"`
	InferenceTimeMs float32            `json:"inference_time_ms"`
	Device          string             `json:"device"`
}

type serviceHealth struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

func NewHTTPBackend(endpoint string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// CheckHealth returns nil if the service is up and has its model loaded
func (h *HTTPBackend) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("detector health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health check returned status %d", resp.StatusCode)
	}
	var health serviceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("detector at %s has no model loaded", h.endpoint)
	}
	return nil
}

// Infer posts img to the service. Cancelling ctx aborts the request.
func (h *HTTPBackend) Infer(ctx context.Context, img gocv.Mat, threshold float32) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("image is empty")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/detect?conf=%.3f", h.endpoint, threshold)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result serviceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.BBox) < 4 {
			continue
		}
		dets = append(dets, Detection{
			Box:        geom.NewBox(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3])),
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Label:      d.Class,
		})
	}
	return dets, nil
}

// Close is a no-op; the backend holds no native resources
func (h *HTTPBackend) Close() error {
	return nil
}
