package handler

import (
	"net/http"

	"github.com/mcoot/spinroom/internal/api/apierr"
	"github.com/mcoot/spinroom/internal/api/middleware"
	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/services/auth"
)

// UserHandler handles user lookup endpoints
type UserHandler struct {
	authService *auth.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(authService *auth.Service) *UserHandler {
	return &UserHandler{authService: authService}
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	response.JSON(w, http.StatusOK, response.UserFromModel(user))
}

// Search handles GET /api/v1/users/search?user_id=&email=
// Exactly one of the parameters must be given.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, email := q.Get("user_id"), q.Get("email")

	var (
		user *model.User
		err  error
	)
	switch {
	case userID != "" && email != "":
		WriteError(w, apierr.NewValidationError("specify only one of user_id or email"))
		return
	case userID != "":
		user, err = h.authService.GetUser(r.Context(), model.UserID(userID))
	case email != "":
		user, err = h.authService.FindUserByEmail(r.Context(), email)
	default:
		WriteError(w, apierr.NewValidationError("user_id or email is required"))
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PublicUserFromModel(user))
}
