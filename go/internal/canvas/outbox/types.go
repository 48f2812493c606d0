package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RoomEvent is one authoritative broadcast relayed to the message bus.
type RoomEvent struct {
	ID         uuid.UUID       `json:"id"`
	RoomID     string          `json:"room_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventPublisher delivers room events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// NoOpPublisher discards every event. It is used when no bus is configured.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(ctx context.Context, event RoomEvent) error { return nil }
