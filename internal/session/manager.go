package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/mcoot/spinroom/internal/dependencies/random"
	"github.com/mcoot/spinroom/internal/model"
)

// ErrReconnectExhausted is returned by Run when the live channel could not
// be re-established within the reconnect policy
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Handler receives a decoded event from either delivery path
type Handler func(ctx context.Context, ev model.Event)

// Config holds configuration for the session manager
type Config struct {
	// ServerURL is the server's base http(s) URL
	ServerURL string
	Token     string
	UserID    model.UserID

	Reconnect    ReconnectPolicy
	PingInterval time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration

	DisableLive    bool
	DisablePolling bool
}

// DefaultConfig returns default session timings
func DefaultConfig() Config {
	return Config{
		Reconnect:    DefaultReconnectPolicy(),
		PingInterval: 25 * time.Second,
		PollInterval: time.Second,
		PollTimeout:  5 * time.Second,
	}
}

// Manager owns a client's live connection and mailbox poller
type Manager struct {
	cfg        Config
	random     random.Random
	logger     *slog.Logger
	dialer     *websocket.Dialer
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	state  atomic.Int32
	cursor atomic.Int64

	mu       sync.Mutex
	handlers map[model.EventType][]Handler
	catchAll []Handler
	rooms    map[model.RoomID]struct{}
	conn     *websocket.Conn

	writeMu sync.Mutex
}

// New creates a new session Manager
func New(cfg Config, rnd random.Random, logger *slog.Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = defaults.Reconnect
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	logger = logger.With(slog.String("component", "session"), slog.String("user_id", string(cfg.UserID)))
	m := &Manager{
		cfg:        cfg,
		random:     rnd,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		httpClient: &http.Client{},
		handlers:   make(map[model.EventType][]Handler),
		rooms:      make(map[model.RoomID]struct{}),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notifications-poll",
		Timeout: 10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("poll breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return m
}

// On registers a handler for one event type
func (m *Manager) On(t model.EventType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], h)
}

// OnAny registers a handler for every event
func (m *Manager) OnAny(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catchAll = append(m.catchAll, h)
}

// State returns the live connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Cursor returns the timestamp of the newest polled notification
func (m *Manager) Cursor() int64 {
	return m.cursor.Load()
}

// JoinRoom subscribes to a room channel now, if connected, and after every
// reconnect
func (m *Manager) JoinRoom(roomID model.RoomID) {
	m.mu.Lock()
	m.rooms[roomID] = struct{}{}
	m.mu.Unlock()
	if m.State() == StateIdentified {
		m.trySend(model.NewControl(model.ControlJoinRoom, model.RoomChannelData{RoomID: roomID}))
	}
}

// LeaveRoom unsubscribes from a room channel
func (m *Manager) LeaveRoom(roomID model.RoomID) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if m.State() == StateIdentified {
		m.trySend(model.NewControl(model.ControlLeaveRoom, model.RoomChannelData{RoomID: roomID}))
	}
}

// Run keeps the session attached until ctx is cancelled or reconnects are
// exhausted
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if !m.cfg.DisablePolling {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.pollLoop(ctx)
		}()
	}

	var err error
	if m.cfg.DisableLive {
		<-ctx.Done()
		err = ctx.Err()
	} else {
		err = m.connectLoop(ctx)
	}

	cancel()
	wg.Wait()
	return err
}

func (m *Manager) connectLoop(ctx context.Context) error {
	attempt := 0
	for {
		m.setState(StateConnecting)
		identified, err := m.connectAndServe(ctx)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		if identified {
			attempt = 0
		}
		attempt++
		if attempt > m.cfg.Reconnect.MaxAttempts {
			m.setState(StateDisconnected)
			m.logger.Error("giving up on live connection", slog.Int("attempts", attempt-1))
			return ErrReconnectExhausted
		}

		delay := m.cfg.Reconnect.Delay(attempt, m.random)
		m.logger.Warn("live connection lost",
			slog.String("error", errString(err)),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// connectAndServe dials, identifies and reads frames until the connection
// fails. It reports whether the connection was ever identified.
func (m *Manager) connectAndServe(ctx context.Context) (bool, error) {
	wsURL, err := m.wsURL()
	if err != nil {
		return false, err
	}
	conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateConnected)

	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()
	}()

	// Unblock the read loop on shutdown
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	if err := m.send(model.NewControl(model.ControlUserJoin, model.UserJoinData{UserID: m.cfg.UserID})); err != nil {
		return false, err
	}

	go m.pingLoop(connCtx)

	identified := false
	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return identified, err
		}

		switch env.Type {
		case model.ControlJoinedUserRoom:
			identified = true
			m.setState(StateIdentified)
			m.logger.Info("live channel identified")
			m.rejoinRooms()
		case model.ControlPing:
			m.trySend(model.NewControl(model.ControlPong, nil))
		case model.ControlPong, model.ControlConnected:
		case model.ControlError:
			m.logger.Warn("server rejected frame", slog.String("data", string(env.Data)))
		default:
			m.Dispatch(ctx, env)
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.trySend(model.NewControl(model.ControlPing, nil))
		}
	}
}

func (m *Manager) rejoinRooms() {
	m.mu.Lock()
	rooms := make([]model.RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		rooms = append(rooms, id)
	}
	m.mu.Unlock()

	for _, id := range rooms {
		m.trySend(model.NewControl(model.ControlJoinRoom, model.RoomChannelData{RoomID: id}))
	}
}

// Dispatch decodes a frame and runs the registered handlers. Live and
// polled events both arrive here.
func (m *Manager) Dispatch(ctx context.Context, env model.Envelope) {
	ev, err := model.DecodeEvent(env)
	if err != nil {
		m.logger.Warn("dropping undecodable event",
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	handlers := append(append([]Handler(nil), m.handlers[env.Type]...), m.catchAll...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (m *Manager) send(env model.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(env)
}

func (m *Manager) trySend(env model.Envelope) {
	if err := m.send(env); err != nil {
		m.logger.Debug("live send failed",
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		m.logger.Debug("session state", slog.String("state", s.String()))
	}
}

func (m *Manager) wsURL() (string, error) {
	u, err := url.Parse(m.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	u.RawQuery = url.Values{"token": {m.cfg.Token}}.Encode()
	return u.String(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
