package models

import "time"

type EventType string

const (
	EventRequestUpdate EventType = "request_update"
	EventCatalogUpdate EventType = "catalog_update"
)

// Event tells subscribers that something changed. It carries no request
// data; receivers refetch their own scoped view.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

func NewEvent(t EventType) Event {
	return Event{Type: t, At: time.Now().UTC()}
}
