// Package preview streams annotated frames to browsers over websocket.
package preview

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"trafficlights/internal/logger"
	"trafficlights/internal/video"
)

const (
	pingInterval = 30 * time.Second
	// writeWait bounds every write to a viewer
	writeWait = 5 * time.Second
)

// FrameMessage is the JSON sent to viewers for every frame
type FrameMessage struct {
	Frame int    `json:"frame"`
	Image string `json:"image"` // base64 JPEG
}

// Hub fans frames out to connected viewers. It implements video.Presenter.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger
	count      atomic.Int32

	frames int
	quit   atomic.Bool
	stop   context.CancelFunc
	done   chan struct{}
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run serves register/unregister/broadcast until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mutex.Lock()
	h.stop = cancel
	h.mutex.Unlock()
	defer close(h.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.count.Store(0)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.count.Store(int32(n))
			h.mutex.Unlock()
			h.logger.Info("Preview client connected. Total: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.count.Store(int32(n))
			h.mutex.Unlock()
			h.logger.Info("Preview client disconnected. Total: %d", n)

		case message := <-h.broadcast:
			h.send(message)

		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			h.mutex.RLock()
			for client := range h.clients {
				client.WriteControl(websocket.PingMessage, nil, deadline)
			}
			h.mutex.RUnlock()
		}
	}
}

// send writes message to every viewer outside the lock. A viewer whose write
// fails or times out is dropped.
func (h *Hub) send(message []byte) {
	h.mutex.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warning("Error sending preview frame: %v", err)
			h.mutex.Lock()
			delete(h.clients, client)
			h.count.Store(int32(len(h.clients)))
			h.mutex.Unlock()
			client.Close()
		}
	}
}

// Register adds a viewer. It returns false if the hub has stopped.
func (h *Hub) Register(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// RequestQuit makes the next Show return video.ErrQuit
func (h *Hub) RequestQuit() {
	if h.quit.CompareAndSwap(false, true) {
		h.logger.Info("Quit requested by preview client")
	}
}

func (h *Hub) QuitRequested() bool {
	return h.quit.Load()
}

func (h *Hub) GetClientCount() int {
	return int(h.count.Load())
}

// Show encodes frame as JPEG and queues it for every viewer. A frame is
// dropped if the previous one has not gone out yet. Show never waits on a
// viewer.
func (h *Hub) Show(frame gocv.Mat) error {
	if h.quit.Load() {
		return video.ErrQuit
	}
	h.frames++
	if h.GetClientCount() == 0 {
		return nil
	}

	message, err := encodeFrame(frame, h.frames)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message:
	default:
	}
	return nil
}

func encodeFrame(frame gocv.Mat, n int) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preview frame: %w", err)
	}
	defer buf.Close()

	return json.Marshal(FrameMessage{
		Frame: n,
		Image: base64.StdEncoding.EncodeToString(buf.GetBytes()),
	})
}

// Close stops Run and disconnects all viewers.
func (h *Hub) Close() error {
	h.mutex.RLock()
	stop := h.stop
	h.mutex.RUnlock()
	if stop == nil {
		return nil
	}
	stop()
	<-h.done
	return nil
}
