package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/spinroom/internal/api/middleware"
	"github.com/mcoot/spinroom/internal/api/request"
	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/services/room"
)

// RoomHandler handles room endpoints
type RoomHandler struct {
	roomController *room.Controller
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomController *room.Controller) *RoomHandler {
	return &RoomHandler{roomController: roomController}
}

func roomID(r *http.Request) model.RoomID {
	return model.RoomID(mux.Vars(r)["roomID"])
}

// List handles GET /api/v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.roomController.ListOpenRooms(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomsFromModel(rooms))
}

// Create handles POST /api/v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var req request.CreateRoomRequest
	if err := request.Decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	created, err := h.roomController.CreateRoom(r.Context(), user, req.EntryFee)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.RoomFromModel(created))
}

// Get handles GET /api/v1/rooms/{roomID}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	found, err := h.roomController.GetRoom(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(found))
}

// InviteUser handles PUT /api/v1/rooms/{roomID}/opponent
func (h *RoomHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var req request.InviteUserRequest
	if err := request.Decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	updated, err := h.roomController.InviteByUserID(r.Context(), user, roomID(r), model.UserID(req.UserID))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(updated))
}

// InviteEmail handles POST /api/v1/rooms/{roomID}/invite
func (h *RoomHandler) InviteEmail(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var req request.InviteEmailRequest
	if err := request.Decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	updated, err := h.roomController.InviteByEmail(r.Context(), user, roomID(r), req.Email)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(updated))
}

// Accept handles POST /api/v1/rooms/{roomID}/accept
func (h *RoomHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	updated, err := h.roomController.AcceptInvite(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(updated))
}

// Ready handles POST /api/v1/rooms/{roomID}/ready
func (h *RoomHandler) Ready(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	updated, resolution, err := h.roomController.MarkReady(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ReadyResponseFromModel(updated, resolution))
}

// Reset handles POST /api/v1/rooms/{roomID}/reset
func (h *RoomHandler) Reset(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	updated, err := h.roomController.ResetRound(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(updated))
}

// Leave handles POST /api/v1/rooms/{roomID}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	updated, err := h.roomController.LeaveRoom(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomFromModel(updated))
}

// Settle handles POST /api/v1/rooms/{roomID}/settle
func (h *RoomHandler) Settle(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	updated, settlement, err := h.roomController.Settle(r.Context(), user, roomID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SettleResponseFromModel(updated, settlement))
}
