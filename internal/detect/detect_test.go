package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"trafficlights/internal/geom"
)

type fakeBackend struct {
	dets      []Detection
	err       error
	calls     int
	threshold float32
	closed    bool
}

func (f *fakeBackend) Infer(ctx context.Context, img gocv.Mat, threshold float32) ([]Detection, error) {
	f.calls++
	f.threshold = threshold
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Detection, len(f.dets))
	copy(out, f.dets)
	return out, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func newFrame(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestFilterByConfidenceInclusive(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.39},
		{Confidence: 0.4},
		{Confidence: 0.95},
	}
	out := FilterByConfidence(dets, 0.4)
	require.Len(t, out, 2)
	require.Equal(t, float32(0.4), out[0].Confidence)
	require.Equal(t, float32(0.95), out[1].Confidence)
	require.Len(t, dets, 3)
}

func TestGroupAdapter(t *testing.T) {
	backend := &fakeBackend{dets: []Detection{
		{Box: geom.NewBox(1, 2, 30, 40), Confidence: 0.4, Label: "traffic_light_group"},
		{Box: geom.NewBox(5, 5, 10, 10), Confidence: 0.2},
	}}
	a := NewGroupAdapter(backend)
	frame := newFrame(64, 48)
	defer frame.Close()

	groups, err := a.DetectGroups(context.Background(), frame, 0.4)
	require.NoError(t, err)
	require.Equal(t, 1, backend.calls)
	require.Equal(t, float32(0.4), backend.threshold)
	require.Len(t, groups, 1)
	require.Equal(t, geom.NewBox(1, 2, 30, 40), groups[0].Box)
	require.Empty(t, groups[0].Label)

	require.NoError(t, a.Close())
	require.True(t, backend.closed)
}

func TestAdapterErrorsAreDetectionFailures(t *testing.T) {
	backend := &fakeBackend{err: errors.New("cuda out of memory")}
	frame := newFrame(32, 32)
	defer frame.Close()

	_, err := NewGroupAdapter(backend).DetectGroups(context.Background(), frame, 0.4)
	require.ErrorIs(t, err, ErrDetectionFailure)
	require.ErrorIs(t, err, backend.err)

	_, err = NewLightAdapter(backend).DetectLights(context.Background(), frame, 0.25)
	require.ErrorIs(t, err, ErrDetectionFailure)
	require.Contains(t, err.Error(), "light detector")
}

func TestLightAdapterKeepsLabelsAndSkipsEmptyCrops(t *testing.T) {
	backend := &fakeBackend{dets: []Detection{
		{Box: geom.NewBox(10, 10, 30, 30), Confidence: 0.25, Label: "red_signal", ClassID: 2},
		{Box: geom.NewBox(0, 0, 3, 3), Confidence: 0.1, Label: "green"},
	}}
	a := NewLightAdapter(backend)

	empty := gocv.NewMat()
	defer empty.Close()
	lights, err := a.DetectLights(context.Background(), empty, 0.25)
	require.NoError(t, err)
	require.Empty(t, lights)
	require.Equal(t, 0, backend.calls)

	crop := newFrame(40, 40)
	defer crop.Close()
	lights, err = a.DetectLights(context.Background(), crop, 0.25)
	require.NoError(t, err)
	require.Len(t, lights, 1)
	require.Equal(t, "red_signal", lights[0].Label)
	require.Equal(t, 2, lights[0].ClassID)
}

func TestLoadClassFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lights.names")
	require.NoError(t, os.WriteFile(path, []byte("red\n\n  green  \nyellow\n"), 0644))
	classes, err := LoadClassFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"red", "green", "yellow"}, classes)

	require.Equal(t, "green", ClassName(classes, 1))
	require.Equal(t, "class7", ClassName(classes, 7))
	require.Equal(t, "class-1", ClassName(classes, -1))

	_, err = LoadClassFile(filepath.Join(t.TempDir(), "missing.names"))
	require.Error(t, err)
}

func TestDecodeYOLO(t *testing.T) {
	// 2 classes, 3 candidates, laid out as [cx, cy, w, h, score0, score1] x n
	const n = 3
	data := []float32{
		// cx
		100, 50, 300,
		// cy
		100, 50, 300,
		// w
		40, 10, 20,
		// h
		20, 10, 20,
		// class 0 scores
		0.10, 0.30, 0.05,
		// class 1 scores
		0.80, 0.10, 0.20,
	}
	dets := decodeYOLO(data, 6, n, 0.25, 2, 0.5)
	require.Len(t, dets, 2)

	require.Equal(t, 1, dets[0].ClassID)
	require.Equal(t, float32(0.80), dets[0].Confidence)
	// cx=200 cy=50 w=80 h=10 after scaling
	require.Equal(t, geom.NewBox(160, 45, 240, 55), dets[0].Box)

	require.Equal(t, 0, dets[1].ClassID)
	require.Equal(t, float32(0.30), dets[1].Confidence)

	// Truncated data is rejected rather than indexed out of range
	require.Nil(t, decodeYOLO(data[:10], 6, n, 0.25, 1, 1))
}

func TestDeviceToNet(t *testing.T) {
	b, tg := deviceToNet("")
	require.Equal(t, gocv.NetBackendDefault, b)
	require.Equal(t, gocv.NetTargetCPU, tg)

	for _, d := range []string{"cuda", "CUDA", "gpu", "0", "1"} {
		b, tg = deviceToNet(d)
		require.Equal(t, gocv.NetBackendCUDA, b, d)
		require.Equal(t, gocv.NetTargetCUDA, tg, d)
	}

	b, tg = deviceToNet("opencl")
	require.Equal(t, gocv.NetBackendOpenCV, b)
	require.Equal(t, gocv.NetTargetFP32, tg)
}

func TestNewDNNBackendMissingModel(t *testing.T) {
	_, err := NewDNNBackend(DNNOptions{ModelPath: filepath.Join(t.TempDir(), "nope.onnx")}, nil)
	require.Error(t, err)
}

func TestHTTPBackend(t *testing.T) {
	var gotConf string
	var gotImage int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(serviceHealth{Status: "ok", ModelLoaded: true})
		case "/detect":
			gotConf = r.URL.Query().Get("conf")
			f, _, err := r.FormFile("image")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			info, _ := f.Seek(0, 2)
			gotImage = int(info)
			json.NewEncoder(w).Encode(serviceResult{
				Detections: []serviceDetection{
					{Class: "Red_Light", ClassID: 0, Confidence: 0.8, BBox: []float32{10, 10, 30, 30}},
					{Class: "broken", Confidence: 0.9, BBox: []float32{1, 2}},
				},
				Count: 2,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL+"/", time.Second)
	require.NoError(t, backend.CheckHealth(context.Background()))

	img := newFrame(64, 64)
	defer img.Close()
	dets, err := backend.Infer(context.Background(), img, 0.25)
	require.NoError(t, err)
	require.Equal(t, "0.250", gotConf)
	require.Greater(t, gotImage, 0)
	require.Len(t, dets, 1)
	require.Equal(t, "Red_Light", dets[0].Label)
	require.Equal(t, geom.NewBox(10, 10, 30, 30), dets[0].Box)
	require.NoError(t, backend.Close())
}

func TestHTTPBackendServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, time.Second)
	require.Error(t, backend.CheckHealth(context.Background()))

	img := newFrame(16, 16)
	defer img.Close()
	_, err := backend.Infer(context.Background(), img, 0.4)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")

	_, err = NewLightAdapter(backend).DetectLights(context.Background(), img, 0.4)
	require.ErrorIs(t, err, ErrDetectionFailure)
}

func TestHTTPBackendInferHonorsCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, 10*time.Second)
	img := newFrame(16, 16)
	defer img.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewLightAdapter(backend).DetectLights(ctx, img, 0.25)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrDetectionFailure)
	require.Less(t, time.Since(start), 5*time.Second)
}
