package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
)

// Record is the minimal unit of state recorded for a workspace server.
type Record struct {
	Workspace string    `json:"workspace"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event represents a workspace server lifecycle event to be exported to
// session-history storage.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
