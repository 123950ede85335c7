package handler

import (
	"net/http"

	"github.com/mcoot/spinroom/internal/api/middleware"
	"github.com/mcoot/spinroom/internal/transport/sse"
)

// EventsHandler serves the server-sent events live channel
type EventsHandler struct {
	stream *sse.Stream
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(stream *sse.Stream) *EventsHandler {
	return &EventsHandler{stream: stream}
}

// Stream handles GET /api/v1/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	h.stream.Serve(w, r, user.ID)
}
