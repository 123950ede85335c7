package handler

import (
	"net/http"
	"strconv"

	"github.com/mcoot/spinroom/internal/api/apierr"
	"github.com/mcoot/spinroom/internal/api/middleware"
	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/mailbox"
	"github.com/mcoot/spinroom/internal/model"
)

// NotificationHandler serves the polling fallback
type NotificationHandler struct {
	mailbox mailbox.Mailbox
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(mb mailbox.Mailbox) *NotificationHandler {
	return &NotificationHandler{mailbox: mb}
}

// Poll handles GET /api/v1/notifications?since=
func (h *NotificationHandler) Poll(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			WriteError(w, apierr.NewValidationError("since must be a non-negative unix millisecond timestamp"))
			return
		}
		since = parsed
	}

	notes, err := h.mailbox.DrainSince(r.Context(), user.ID, since)
	if err != nil {
		WriteError(w, err)
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}

	response.JSON(w, http.StatusOK, response.NotificationsResponse{
		Notifications: notes,
		Cursor:        mailbox.Cursor(notes, since),
	})
}
