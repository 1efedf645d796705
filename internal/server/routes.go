package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BioHazard786/Camsync/internal/relay"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Browser clients are served from other origins; room ids are the only secret.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs upgrades the request and hands the connection to hub.
func ServeWs(hub *relay.Hub, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}
		hub.Attach(conn)
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling relay is healthy."))
}

// NewRouter wires the relay endpoints: /ws, /health and /metrics.
func NewRouter(hub *relay.Hub, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(hub, log))
	mux.HandleFunc("/health", healthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
