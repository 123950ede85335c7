package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mcoot/spinroom/internal/model"
)

// Topics carrying delivery requests
const (
	TopicUser      = "delivery.user"
	TopicRoom      = "delivery.room"
	TopicBroadcast = "delivery.broadcast"
)

// dispatchBuffer is the per-subscriber buffer of the in-process pubsub
const dispatchBuffer = 1024

// request is the message body on every delivery topic
type request struct {
	Target   string         `json:"target,omitempty"`
	Envelope model.Envelope `json:"envelope"`
}

// Dispatcher hands events to the emitter in the background so the request
// that produced them never waits on the live channel.
//
// Events for the same target (a user, a room, or the broadcast channel) are
// delivered in publish order, one at a time, so a retrying event holds back
// later events for that target only. There is no ordering between targets:
// a room-updated event may overtake a directed event published before it.
type Dispatcher struct {
	pubsub  *gochannel.GoChannel
	emitter *Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	lanes map[string][]func() // target key -> pending deliveries

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher subscribes to the delivery topics and starts consuming
func NewDispatcher(emitter *Emitter, logger *slog.Logger) (*Dispatcher, error) {
	logger = logger.With(slog.String("component", "dispatcher"))
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: dispatchBuffer},
			watermill.NewSlogLogger(logger),
		),
		emitter: emitter,
		logger:  logger,
		lanes:   make(map[string][]func()),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, topic := range []string{TopicUser, TopicRoom, TopicBroadcast} {
		messages, err := d.pubsub.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		d.wg.Add(1)
		go d.consume(topic, messages)
	}

	return d, nil
}

// NotifyUser queues a directed event
func (d *Dispatcher) NotifyUser(ctx context.Context, userID model.UserID, ev model.Event) {
	d.publish(ctx, TopicUser, string(userID), ev)
}

// NotifyRoom queues an event for the room channel
func (d *Dispatcher) NotifyRoom(ctx context.Context, roomID model.RoomID, ev model.Event) {
	d.publish(ctx, TopicRoom, string(roomID), ev)
}

// Broadcast queues an event for every live connection
func (d *Dispatcher) Broadcast(ctx context.Context, ev model.Event) {
	d.publish(ctx, TopicBroadcast, "", ev)
}

// Close stops consuming and waits for in-flight deliveries. Deliveries
// still retrying fall back to the mailbox immediately.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.cancel()
		err = d.pubsub.Close()
		d.wg.Wait()
	})
	return err
}

func (d *Dispatcher) publish(ctx context.Context, topic, target string, ev model.Event) {
	env, err := model.NewEnvelope(ev)
	if err != nil {
		d.logger.Error("failed to encode event",
			slog.String("event", string(ev.EventType())),
			slog.String("error", err.Error()))
		return
	}

	payload, err := json.Marshal(request{Target: target, Envelope: env})
	if err != nil {
		d.logger.Error("failed to encode delivery request", slog.String("error", err.Error()))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(context.WithoutCancel(ctx))

	if err := d.pubsub.Publish(topic, msg); err != nil {
		d.logger.Error("failed to publish delivery request",
			slog.String("topic", topic),
			slog.String("event", string(env.Type)),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) consume(topic string, messages <-chan *message.Message) {
	defer d.wg.Done()
	for msg := range messages {
		var req request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			d.logger.Error("dropping malformed delivery request",
				slog.String("topic", topic),
				slog.String("error", err.Error()))
			msg.Ack()
			continue
		}

		ev, err := model.DecodeEvent(req.Envelope)
		if err != nil {
			d.logger.Error("dropping undecodable event",
				slog.String("topic", topic),
				slog.String("error", err.Error()))
			msg.Ack()
			continue
		}

		// Ack first: a slow retry for one user must not hold up the topic
		msg.Ack()

		target := req.Target
		d.enqueue(topic+"/"+target, func() {
			d.deliver(topic, target, ev)
		})
	}
}

// enqueue appends a delivery to the target's lane, starting a worker for
// the lane if none is running
func (d *Dispatcher) enqueue(key string, job func()) {
	d.mu.Lock()
	pending, running := d.lanes[key]
	d.lanes[key] = append(pending, job)
	d.mu.Unlock()

	if running {
		return
	}
	d.wg.Add(1)
	go d.drain(key)
}

// drain runs a lane's deliveries in order and exits once it is empty
func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.lanes[key]
		if len(pending) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		job := pending[0]
		d.lanes[key] = pending[1:]
		d.mu.Unlock()

		job()
	}
}

func (d *Dispatcher) deliver(topic, target string, ev model.Event) {
	switch topic {
	case TopicUser:
		d.emitter.EmitToUser(d.ctx, model.UserID(target), ev)
	case TopicRoom:
		d.emitter.EmitToRoom(d.ctx, model.RoomID(target), ev)
	case TopicBroadcast:
		d.emitter.BroadcastToAll(d.ctx, ev)
	}
}
