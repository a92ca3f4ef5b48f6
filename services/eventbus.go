package services

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

type bridgeMessage struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// EventBridge relays hub events between server instances over a NATS
// subject. Messages carry the sending instance's id so an instance ignores its
// own echoes.
type EventBridge struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	subject    string
	instanceID string
	hub        *Hub
	log        *slog.Logger
}

func NewEventBridge(url, subject string, hub *Hub) (*EventBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("shelfmark"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &EventBridge{
		nc:         nc,
		subject:    subject,
		instanceID: uuid.NewString(),
		hub:        hub,
		log:        logger.For("eventbus"),
	}

	b.sub, err = nc.Subscribe(subject, b.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to flush NATS subscription: %w", err)
	}

	hub.AddForwarder(b.forward)
	b.log.Info("Event bridge connected", "subject", subject, "instance", b.instanceID)
	return b, nil
}

func (b *EventBridge) InstanceID() string {
	return b.instanceID
}

func (b *EventBridge) forward(ev models.Event) {
	data, err := json.Marshal(bridgeMessage{Origin: b.instanceID, Event: ev})
	if err != nil {
		b.log.Error("Failed to encode event", "error", err)
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		b.log.Warn("Failed to publish event to NATS", "error", err)
	}
}

func (b *EventBridge) receive(msg *nats.Msg) {
	var m bridgeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.log.Warn("Ignoring malformed bridge message", "error", err)
		return
	}
	if m.Origin == b.instanceID {
		return
	}
	b.hub.Deliver(m.Event)
}

func (b *EventBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}
