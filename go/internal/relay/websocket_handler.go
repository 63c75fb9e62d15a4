package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades HTTP requests into relay sessions
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	config      ConnectionConfig
	store       *Store
	registry    *Registry
	scheduler   *Scheduler
	metrics     MetricsCollector
	passthrough bool
	rateLimit   int
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(config ConnectionConfig, store *Store, registry *Registry, scheduler *Scheduler, metrics MetricsCollector) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

// HandleConnection upgrades the request and runs the connection's pumps
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := newConnection(ws, h.config)
	session := NewSession(conn, h.store, h.registry, h.passthrough)
	h.metrics.ConnectionOpened()

	go conn.writePump()
	go conn.readPump(session.HandleMessage, func() {
		session.Close()
		h.metrics.ConnectionClosed()
		log.Info().Str("connection_id", conn.ID()).Msg("WebSocket connection closed")
	})

	log.Info().
		Str("connection_id", conn.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
}

// ConnectionStats is the body of GET /ws/stats
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	ActiveRooms      int `json:"active_rooms"`
	RunningCycles    int `json:"running_cycles"`
}

// Stats returns statistics about active connections
func (h *WebSocketHandler) Stats() ConnectionStats {
	return ConnectionStats{
		TotalConnections: h.registry.Count(),
		ActiveRooms:      h.store.Len(),
		RunningCycles:    h.scheduler.Running(),
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
// Clients connect to the bare server URL as well as /ws.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	var upgrade http.Handler = http.HandlerFunc(h.HandleConnection)
	if h.rateLimit > 0 {
		upgrade = httprate.LimitByIP(h.rateLimit, time.Minute)(upgrade)
	}

	mux.Handle("GET /{$}", upgrade)
	mux.Handle("GET /ws", upgrade)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
