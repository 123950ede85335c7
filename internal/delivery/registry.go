package delivery

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/mcoot/spinroom/internal/model"
)

// Registry maps users and rooms to their live connections. A connection
// joins the per-user channel when it identifies and any number of room
// channels.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	conns map[string]*member
	users map[model.UserID]map[string]Conn
	rooms map[model.RoomID]map[string]Conn
}

type member struct {
	conn   Conn
	userID model.UserID
	rooms  map[model.RoomID]struct{}
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Connections int `json:"connected_sockets"`
	Users       int `json:"connected_users"`
	Rooms       int `json:"rooms"`
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With(slog.String("component", "registry")),
		conns:  make(map[string]*member),
		users:  make(map[model.UserID]map[string]Conn),
		rooms:  make(map[model.RoomID]map[string]Conn),
	}
}

// Add registers an anonymous connection so it receives broadcasts
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID()]; !ok {
		r.conns[conn.ID()] = &member{conn: conn, rooms: make(map[model.RoomID]struct{})}
	}
}

// Identify attaches a connection to a user's channel, moving it if it was
// previously identified as someone else
func (r *Registry) Identify(userID model.UserID, conn Conn) {
	r.mu.Lock()
	m, ok := r.conns[conn.ID()]
	if !ok {
		m = &member{conn: conn, rooms: make(map[model.RoomID]struct{})}
		r.conns[conn.ID()] = m
	}
	if m.userID != "" && m.userID != userID {
		r.detachUser(m)
	}
	m.userID = userID
	group, ok := r.users[userID]
	if !ok {
		group = make(map[string]Conn)
		r.users[userID] = group
	}
	group[conn.ID()] = conn
	count := len(group)
	r.mu.Unlock()

	r.logger.Info("connection identified",
		slog.String("user_id", string(userID)),
		slog.String("conn_id", conn.ID()),
		slog.Int("user_connections", count))
}

// Remove drops a connection from every channel
func (r *Registry) Remove(conn Conn) {
	r.mu.Lock()
	m, ok := r.conns[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	userID := m.userID
	r.detachUser(m)
	for roomID := range m.rooms {
		r.detachRoom(roomID, conn.ID())
	}
	delete(r.conns, conn.ID())
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection removed",
		slog.String("user_id", string(userID)),
		slog.String("conn_id", conn.ID()),
		slog.Int("total_connections", total))
}

// JoinRoom subscribes a connection to a room channel
func (r *Registry) JoinRoom(roomID model.RoomID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[conn.ID()]
	if !ok {
		m = &member{conn: conn, rooms: make(map[model.RoomID]struct{})}
		r.conns[conn.ID()] = m
	}
	m.rooms[roomID] = struct{}{}
	group, ok := r.rooms[roomID]
	if !ok {
		group = make(map[string]Conn)
		r.rooms[roomID] = group
	}
	group[conn.ID()] = conn
}

// LeaveRoom unsubscribes a connection from a room channel
func (r *Registry) LeaveRoom(roomID model.RoomID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.conns[conn.ID()]; ok {
		delete(m.rooms, roomID)
	}
	r.detachRoom(roomID, conn.ID())
}

// UserConns returns the connections identified as the user
func (r *Registry) UserConns(userID model.UserID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.users[userID])
}

// RoomConns returns the connections subscribed to the room
func (r *Registry) RoomConns(roomID model.RoomID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[roomID])
}

// AllConns returns every live connection, identified or not
func (r *Registry) AllConns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.conns, func(_ string, m *member) Conn {
		return m.conn
	})
}

// Stats counts connections, identified users and active room channels
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.conns),
		Users:       len(r.users),
		Rooms:       len(r.rooms),
	}
}

// detachUser must be called with mu held
func (r *Registry) detachUser(m *member) {
	if m.userID == "" {
		return
	}
	if group, ok := r.users[m.userID]; ok {
		delete(group, m.conn.ID())
		if len(group) == 0 {
			delete(r.users, m.userID)
		}
	}
	m.userID = ""
}

// detachRoom must be called with mu held
func (r *Registry) detachRoom(roomID model.RoomID, connID string) {
	if group, ok := r.rooms[roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Provider owns the process's single registry, built on first use
type Provider struct {
	once     sync.Once
	registry atomic.Pointer[Registry]
	logger   *slog.Logger
}

// NewProvider creates a provider with no registry yet
func NewProvider(logger *slog.Logger) *Provider {
	return &Provider{logger: logger}
}

// Get returns the registry, constructing it on the first call
func (p *Provider) Get() *Registry {
	p.once.Do(func() {
		p.registry.Store(NewRegistry(p.logger))
		p.logger.Info("live registry initialised")
	})
	return p.registry.Load()
}

// Peek returns the registry, or nil if nothing has connected yet
func (p *Provider) Peek() *Registry {
	return p.registry.Load()
}
