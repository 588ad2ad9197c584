package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/karuta/go/internal/karuta/session"
	"github.com/rs/zerolog/log"
)

// StateProvider exposes read access to live groups
type StateProvider interface {
	Groups() []session.GroupSummary
	Group(id string) (*session.Group, bool)
}

// StateHandler serves group state over plain HTTP for late joiners and dashboards
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetGroupState handles GET /api/groups/{id}/state
func (h *StateHandler) HandleGetGroupState(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "" {
		http.Error(w, "group id is required", http.StatusBadRequest)
		return
	}

	g, ok := h.stateProvider.Group(groupID)
	if !ok {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	writeJSON(w, g.Snapshot())
}

// HandleListGroups handles GET /api/groups
func (h *StateHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.stateProvider.Groups()
	if groups == nil {
		groups = []session.GroupSummary{}
	}
	writeJSON(w, groups)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/groups", h.HandleListGroups)
	mux.HandleFunc("GET /api/groups/{id}/state", h.HandleGetGroupState)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
