package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const DefaultSubscriberBuffer = 16

// EventPublisher accepts change notifications. Publish must not block.
type EventPublisher interface {
	Publish(ev models.Event)
}

// Subscriber is one connected listener. Its channel is closed when it is
// unsubscribed, dropped for falling behind, or the hub stops.
type Subscriber struct {
	ID string
	ch chan models.Event
}

func (s *Subscriber) Events() <-chan models.Event {
	return s.ch
}

// Hub fans change events out to subscribers. Publishing only records the
// event; a single Run loop does the delivery. Events of the same type that
// arrive before the loop picks them up collapse into the latest one.
type Hub struct {
	bufferSize int
	log        *slog.Logger

	mu         sync.Mutex
	subs       map[string]*Subscriber
	pending    map[models.EventType]models.Event
	forwarders []func(models.Event)

	wake chan struct{}
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		bufferSize: bufferSize,
		log:        logger.For("hub"),
		subs:       make(map[string]*Subscriber),
		pending:    make(map[models.EventType]models.Event),
		wake:       make(chan struct{}, 1),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		ch: make(chan models.Event, h.bufferSize),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	hubSubscribers.Set(float64(n))
	h.log.Debug("Subscriber connected", "subscriber", sub.ID, "subscribers", n)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		close(sub.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()

	hubSubscribers.Set(float64(n))
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// AddForwarder registers fn to see every locally published event. fn runs on
// the publisher's goroutine and must not block.
func (h *Hub) AddForwarder(fn func(models.Event)) {
	h.mu.Lock()
	h.forwarders = append(h.forwarders, fn)
	h.mu.Unlock()
}

// Publish queues ev for delivery and hands it to the forwarders.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	forwarders := h.forwarders
	h.mu.Unlock()

	h.Deliver(ev)
	for _, fn := range forwarders {
		fn(ev)
	}
}

// Deliver queues ev for local subscribers only.
func (h *Hub) Deliver(ev models.Event) {
	h.mu.Lock()
	h.pending[ev.Type] = ev
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is cancelled, then closes every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.wake:
			h.mu.Lock()
			events := h.pending
			h.pending = make(map[models.EventType]models.Event)
			h.mu.Unlock()

			for _, ev := range events {
				h.broadcast(ev)
			}
		}
	}
}

func (h *Hub) broadcast(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			// Full buffer: drop the subscriber so its connection closes and the client resyncs.
			delete(h.subs, id)
			close(sub.ch)
			hubDrops.Inc()
			h.log.Warn("Dropping slow subscriber", "subscriber", id)
		}
	}
	hubSubscribers.Set(float64(len(h.subs)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	hubSubscribers.Set(0)
}
