package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/spinroom/internal/api/handler"
	"github.com/mcoot/spinroom/internal/api/middleware"
	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/mailbox"
	basemiddleware "github.com/mcoot/spinroom/internal/middleware"
	"github.com/mcoot/spinroom/internal/services/auth"
	"github.com/mcoot/spinroom/internal/services/room"
	"github.com/mcoot/spinroom/internal/transport/sse"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	AuthService    *auth.Service
	RoomController *room.Controller
	Mailbox        mailbox.Mailbox
	Provider       *delivery.Provider
	Stream         *sse.Stream
	WebSocket      http.Handler                  // optional; mounted at /api/v1/ws
	RateLimiter    *basemiddleware.IPRateLimiter // optional
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	authHandler := handler.NewAuthHandler(cfg.AuthService)
	userHandler := handler.NewUserHandler(cfg.AuthService)
	roomHandler := handler.NewRoomHandler(cfg.RoomController)
	notificationHandler := handler.NewNotificationHandler(cfg.Mailbox)
	eventsHandler := handler.NewEventsHandler(cfg.Stream)
	healthHandler := handler.NewHealthHandler(cfg.Provider)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)
	if cfg.RateLimiter != nil {
		api.Use(middleware.RateLimit(cfg.RateLimiter))
	}

	// Public routes
	api.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

	// The websocket handler authenticates from its query string itself
	if cfg.WebSocket != nil {
		api.Handle("/ws", cfg.WebSocket).Methods(http.MethodGet)
	}

	// Everything else requires a bearer token
	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware)

	protected.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)

	protected.HandleFunc("/users/me", userHandler.GetMe).Methods(http.MethodGet)
	protected.HandleFunc("/users/search", userHandler.Search).Methods(http.MethodGet)

	protected.HandleFunc("/rooms", roomHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/rooms", roomHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}", roomHandler.Get).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{roomID}/opponent", roomHandler.InviteUser).Methods(http.MethodPut)
	protected.HandleFunc("/rooms/{roomID}/invite", roomHandler.InviteEmail).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}/accept", roomHandler.Accept).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}/ready", roomHandler.Ready).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}/reset", roomHandler.Reset).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}/leave", roomHandler.Leave).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomID}/settle", roomHandler.Settle).Methods(http.MethodPost)

	protected.HandleFunc("/notifications", notificationHandler.Poll).Methods(http.MethodGet)
	protected.HandleFunc("/events", eventsHandler.Stream).Methods(http.MethodGet)

	return r
}
