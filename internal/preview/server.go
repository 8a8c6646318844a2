package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trafficlights/internal/logger"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the hub over HTTP
type Server struct {
	hub      *Hub
	logger   *logger.Logger
	logDir   string
	server   *http.Server
	listener net.Listener
}

func NewServer(hub *Hub, logger *logger.Logger) *Server {
	return &Server{
		hub:    hub,
		logger: logger,
	}
}

// ServeLogs exposes the log files in logDir under /logs/
func (s *Server) ServeLogs(logDir string) {
	s.logDir = logDir
}

// Handler registers the preview routes:
//
//	/         viewer page
//	/ws       frame stream; sending "quit" stops the pipeline
//	/healthz  liveness
//	/logs/info, /logs/warning, /logs/error  log files, if ServeLogs was called
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.websocketHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	if s.logDir != "" {
		for _, level := range []string{"info", "warning", "error"} {
			filename := level + ".log"
			mux.HandleFunc("/logs/"+level, func(w http.ResponseWriter, r *http.Request) {
				serveLogFile(w, r, s.logDir, filename)
			})
		}
	}
	mux.HandleFunc("/", s.indexHandler)
	return mux
}

func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filePath)
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	connection, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warning("WebSocket upgrade error: %v", err)
		return
	}
	connection.SetReadLimit(512)
	connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	connection.SetPongHandler(func(appData string) error {
		connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	defer connection.Close()

	if !s.hub.Register(connection) {
		return
	}
	defer s.hub.Unregister(connection)

	for {
		_, msg, err := connection.ReadMessage()
		if err != nil {
			break
		}
		connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		if strings.EqualFold(strings.TrimSpace(string(msg)), "quit") {
			s.hub.RequestQuit()
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","clients":%d,"quit":%t}`, s.hub.GetClientCount(), s.hub.QuitRequested())
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

// Start listens on addr and serves in the background. Listen errors are
// returned directly.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Preview available at http://%s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Preview server stopped: %v", err)
		}
	}()
	return nil
}

// Addr is the address the server listens on, once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Traffic lights</title></head>
<body style="background:#111;color:#ddd;font-family:sans-serif">
<div>frame <span id="n">-</span> <button id="quit">stop</button></div>
<img id="frame" style="max-width:100%">
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  document.getElementById("n").textContent = m.frame;
  document.getElementById("frame").src = "data:image/jpeg;base64," + m.image;
};
document.getElementById("quit").onclick = () => ws.send("quit");
</script>
</body>
</html>
`
