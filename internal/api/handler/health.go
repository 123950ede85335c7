package handler

import (
	"net/http"

	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/delivery"
)

// HealthHandler reports liveness
type HealthHandler struct {
	provider *delivery.Provider
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(provider *delivery.Provider) *HealthHandler {
	return &HealthHandler{provider: provider}
}

// Get handles GET /api/v1/health. It never forces the live registry into
// existence.
func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	resp := response.HealthResponse{Status: "ok"}
	if h.provider != nil {
		if registry := h.provider.Peek(); registry != nil {
			stats := registry.Stats()
			resp.ConnectedUsers = stats.Users
			resp.ConnectedSockets = stats.Connections
			resp.Rooms = stats.Rooms
		}
	}
	response.JSON(w, http.StatusOK, resp)
}
