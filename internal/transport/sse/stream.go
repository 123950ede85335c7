// Package sse serves the server-sent events live channel.
package sse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/model"
)

const (
	// Time between keepalive comments
	pingPeriod = 30 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 256
)

// Stream serves one event stream per request, identified as the
// authenticated user for its whole lifetime
type Stream struct {
	provider   *delivery.Provider
	logger     *slog.Logger
	pingPeriod time.Duration
}

// NewStream creates a new SSE Stream
func NewStream(provider *delivery.Provider, logger *slog.Logger) *Stream {
	return &Stream{
		provider:   provider,
		logger:     logger.With(slog.String("component", "sse")),
		pingPeriod: pingPeriod,
	}
}

// client is one SSE connection registered with the delivery registry
type client struct {
	id    string
	queue *delivery.Queue
}

func (c *client) ID() string { return c.id }

func (c *client) Send(env model.Envelope) error { return c.queue.Push(env) }

// Serve streams events for the user until the client disconnects
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, userID model.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	c := &client{
		id:    uuid.NewString(),
		queue: delivery.NewQueue(sendBufferSize),
	}
	registry := s.provider.Get()
	registry.Add(c)
	registry.Identify(userID, c)
	connectedAt := time.Now()

	defer func() {
		registry.Remove(c)
		c.queue.Close()
		s.logger.Info("sse client disconnected",
			slog.String("conn_id", c.id),
			slog.String("user_id", string(userID)),
			slog.Duration("connection_duration", time.Since(connectedAt)))
	}()

	hello := model.NewControl(model.ControlConnected, model.JoinedUserRoomData{UserID: userID, SocketID: c.id})
	if err := writeEnvelope(w, hello); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.queue.C():
			if !ok {
				return
			}
			if err := writeEnvelope(w, env); err != nil {
				s.logger.Warn("sse write failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = w.Write(formatSSEMessage(string(env.Type), string(data)))
	return err
}

// formatSSEMessage formats an SSE message with event name and data.
// Each line of data gets its own "data: " prefix.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: " + eventName + "\n")
	data = strings.ReplaceAll(data, "\r", "")
	for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}
