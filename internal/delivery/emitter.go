package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/spinroom/internal/mailbox"
	"github.com/mcoot/spinroom/internal/model"
)

// RetryPolicy bounds how hard EmitToUser tries the live channel before
// parking an event in the mailbox
type RetryPolicy struct {
	// Attempts is the total number of live delivery attempts
	Attempts int
	// FirstDelay is the wait after the first failed attempt
	FirstDelay time.Duration
	// Step grows the wait linearly after later failures
	Step time.Duration
}

// DefaultRetryPolicy waits 150ms, then 300ms, 600ms and 900ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		FirstDelay: 150 * time.Millisecond,
		Step:       300 * time.Millisecond,
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.FirstDelay
	}
	return p.Step * time.Duration(attempt-1)
}

// Emitter delivers events to live connections
type Emitter struct {
	provider *Provider
	mailbox  mailbox.Mailbox
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewEmitter creates an emitter over the process registry and mailbox
func NewEmitter(provider *Provider, mb mailbox.Mailbox, policy RetryPolicy, logger *slog.Logger) *Emitter {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Emitter{
		provider: provider,
		mailbox:  mb,
		policy:   policy,
		logger:   logger.With(slog.String("component", "emitter")),
	}
}

// EmitToUser delivers to every live connection of the user. When none takes
// the event within the retry budget it is parked in the mailbox and false is
// returned. Cancelling ctx cuts the retries short but still parks the event.
func (e *Emitter) EmitToUser(ctx context.Context, userID model.UserID, ev model.Event) bool {
	env, err := model.NewEnvelope(ev)
	if err != nil {
		e.logger.Error("failed to encode event",
			slog.String("event", string(ev.EventType())),
			slog.String("error", err.Error()))
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.Attempts; attempt++ {
		lastErr = e.deliverToUser(userID, env)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Debug("live delivery succeeded after retry",
					slog.String("user_id", string(userID)),
					slog.String("event", string(env.Type)),
					slog.Int("attempt", attempt))
			}
			return true
		}
		if attempt == e.policy.Attempts || !sleep(ctx, e.policy.Delay(attempt)) {
			break
		}
	}

	e.logger.Info("live delivery failed, parking in mailbox",
		slog.String("user_id", string(userID)),
		slog.String("event", string(env.Type)),
		slog.String("error", lastErr.Error()))

	if _, err := e.mailbox.Enqueue(context.WithoutCancel(ctx), userID, ev); err != nil {
		e.logger.Error("failed to park event in mailbox",
			slog.String("user_id", string(userID)),
			slog.String("event", string(env.Type)),
			slog.String("error", err.Error()))
	}
	return false
}

// EmitToRoom makes one attempt at every subscriber of the room channel
func (e *Emitter) EmitToRoom(ctx context.Context, roomID model.RoomID, ev model.Event) bool {
	reg := e.provider.Peek()
	if reg == nil {
		return false
	}
	return e.fanOut(reg.RoomConns(roomID), ev)
}

// BroadcastToAll makes one attempt at every live connection
func (e *Emitter) BroadcastToAll(ctx context.Context, ev model.Event) bool {
	reg := e.provider.Peek()
	if reg == nil {
		return false
	}
	return e.fanOut(reg.AllConns(), ev)
}

func (e *Emitter) deliverToUser(userID model.UserID, env model.Envelope) error {
	reg := e.provider.Peek()
	if reg == nil {
		return ErrNoRegistry
	}
	conns := reg.UserConns(userID)
	if len(conns) == 0 {
		return ErrNoConnection
	}

	var errs []error
	delivered := false
	for _, c := range conns {
		if err := c.Send(env); err != nil {
			errs = append(errs, fmt.Errorf("conn %s: %w", c.ID(), err))
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}

func (e *Emitter) fanOut(conns []Conn, ev model.Event) bool {
	if len(conns) == 0 {
		return false
	}
	env, err := model.NewEnvelope(ev)
	if err != nil {
		e.logger.Error("failed to encode event",
			slog.String("event", string(ev.EventType())),
			slog.String("error", err.Error()))
		return false
	}

	sent, dropped := 0, 0
	for _, c := range conns {
		if err := c.Send(env); err != nil {
			dropped++
			continue
		}
		sent++
	}
	if dropped > 0 {
		e.logger.Warn("fan-out partial failure",
			slog.String("event", string(env.Type)),
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
	return sent > 0
}

// sleep waits for d, returning false if ctx ends first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
