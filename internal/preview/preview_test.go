package preview

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"trafficlights/internal/logger"
	"trafficlights/internal/video"
)

func startServer(t *testing.T) (*Hub, *Server) {
	t.Helper()
	log := logger.NewDiscard()
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := NewServer(hub, log)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		cancel()
		hub.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestShowBroadcastsJPEGFrames(t *testing.T) {
	hub, srv := startServer(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()
	require.NoError(t, hub.Show(frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, 1, msg.Frame)

	jpeg, err := base64.StdEncoding.DecodeString(msg.Image)
	require.NoError(t, err)
	decoded, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	require.NoError(t, err)
	defer decoded.Close()
	require.Equal(t, 32, decoded.Cols())
	require.Equal(t, 24, decoded.Rows())
}

func TestQuitMessageStopsShow(t *testing.T) {
	hub, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("quit")))
	require.Eventually(t, hub.QuitRequested, 2*time.Second, 10*time.Millisecond)

	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()
	require.ErrorIs(t, hub.Show(frame), video.ErrQuit)
}

func TestShowWithoutViewers(t *testing.T) {
	hub := NewHub(logger.NewDiscard())
	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()
	require.NoError(t, hub.Show(frame))
	require.NoError(t, hub.Close())
}

func TestHealthz(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok","clients":0,"quit":false}`, string(body))

	resp, err = http.Get("http://" + srv.Addr() + "/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartFailsOnBadAddress(t *testing.T) {
	srv := NewServer(NewHub(logger.NewDiscard()), logger.NewDiscard())
	require.Error(t, srv.Start("256.0.0.1:99999"))
}

func TestServeLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warning.log"), []byte("WARNING something\n"), 0644))

	srv := NewServer(NewHub(logger.NewDiscard()), logger.NewDiscard())
	srv.ServeLogs(dir)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/logs/warning")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "WARNING something\n", string(body))

	resp, err = http.Get("http://" + srv.Addr() + "/logs/error")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStalledViewerDoesNotBlockShow(t *testing.T) {
	hub, srv := startServer(t)
	dial(t, srv) // never reads
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Noise compresses badly, so the socket buffers fill after a few frames
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()
	gocv.RandU(&frame, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(255, 255, 255, 0))

	for i := 0; i < 60; i++ {
		start := time.Now()
		require.NoError(t, hub.Show(frame))
		require.Less(t, time.Since(start), 2*time.Second, "frame %d", i)
	}

	closed := make(chan struct{})
	go func() {
		hub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(writeWait + 5*time.Second):
		t.Fatal("hub did not stop")
	}
}
