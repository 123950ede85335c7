// Package ws serves the websocket live channel.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/model"
)

// Authenticator resolves a bearer token to a user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RoomViewer checks a user may subscribe to a room channel
type RoomViewer interface {
	GetRoom(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error)
}

// Config holds websocket timings
type Config struct {
	// Time allowed to write a frame to the peer
	WriteWait time.Duration
	// Time allowed between frames from the peer
	PongWait time.Duration
	// Interval between protocol pings, must be less than PongWait
	PingPeriod     time.Duration
	SendBufferSize int
	MaxMessageSize int64
}

// DefaultConfig returns default websocket timings
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		SendBufferSize: 256,
		MaxMessageSize: 4096,
	}
}

// Handler upgrades authenticated requests and pumps frames between the
// socket and the delivery registry
type Handler struct {
	provider *delivery.Provider
	auth     Authenticator
	rooms    RoomViewer
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new websocket Handler
func NewHandler(provider *delivery.Provider, auth Authenticator, rooms RoomViewer, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		provider: provider,
		auth:     auth,
		rooms:    rooms,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// conn is one websocket connection registered with the delivery registry
type conn struct {
	id    string
	user  *model.User
	ws    *websocket.Conn
	queue *delivery.Queue
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(env model.Envelope) error { return c.queue.Push(env) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	user, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{
		id:    uuid.NewString(),
		user:  user,
		ws:    socket,
		queue: delivery.NewQueue(h.cfg.SendBufferSize),
	}
	registry := h.provider.Get()
	registry.Add(c)

	h.logger.Info("ws opened",
		slog.String("conn_id", c.id),
		slog.String("user_id", string(user.ID)))

	go h.writePump(c)
	h.readPump(r.Context(), registry, c)
}

// readPump handles control frames until the socket fails, then tears the
// connection down
func (h *Handler) readPump(ctx context.Context, registry *delivery.Registry, c *conn) {
	defer func() {
		registry.Remove(c)
		c.queue.Close()
		h.logger.Info("ws closed", slog.String("conn_id", c.id))
	}()

	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		var frame model.Envelope
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if err := h.handleFrame(ctx, registry, c, frame); err != nil {
			h.reply(c, model.NewControl(model.ControlError, model.ErrorData{Message: err.Error()}))
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, registry *delivery.Registry, c *conn, frame model.Envelope) error {
	switch frame.Type {
	case model.ControlUserJoin:
		var data model.UserJoinData
		if err := decode(frame, &data); err != nil {
			return err
		}
		if data.UserID != c.user.ID {
			return errors.New("user id does not match token")
		}
		registry.Identify(c.user.ID, c)
		h.reply(c, model.NewControl(model.ControlJoinedUserRoom, model.JoinedUserRoomData{
			UserID:   c.user.ID,
			SocketID: c.id,
		}))

	case model.ControlJoinRoom:
		var data model.RoomChannelData
		if err := decode(frame, &data); err != nil {
			return err
		}
		if _, err := h.rooms.GetRoom(ctx, c.user, data.RoomID); err != nil {
			return err
		}
		registry.JoinRoom(data.RoomID, c)

	case model.ControlLeaveRoom:
		var data model.RoomChannelData
		if err := decode(frame, &data); err != nil {
			return err
		}
		registry.LeaveRoom(data.RoomID, c)

	case model.ControlPing:
		h.reply(c, model.NewControl(model.ControlPong, nil))

	default:
		return errors.New("unknown frame type " + string(frame.Type))
	}
	return nil
}

// writePump is the only writer on the socket
func (h *Handler) writePump(c *conn) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.queue.C():
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				h.logger.Warn("ws write failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) reply(c *conn, env model.Envelope) {
	if err := c.Send(env); err != nil {
		h.logger.Warn("ws reply dropped",
			slog.String("conn_id", c.id),
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()))
	}
}

func decode(frame model.Envelope, v any) error {
	if len(frame.Data) == 0 {
		return errors.New(string(frame.Type) + ": missing data")
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return errors.New(string(frame.Type) + ": malformed data")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	return ""
}
