package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests for group connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleGroupConnection upgrades a connection. group_id and name are optional;
// clients can join and pick a name later with join and set_name messages.
func (h *WebSocketHandler) HandleGroupConnection(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	name := r.URL.Query().Get("name")

	// Upgrade writes its own error response on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, groupID, name); err != nil {
		log.Error().
			Err(err).
			Str("group_id", groupID).
			Str("player", name).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers websocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/karuta", h.HandleGroupConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
