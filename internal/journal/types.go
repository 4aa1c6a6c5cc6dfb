package journal

import (
	"context"
	"time"
)

// Direction of a relayed message.
type Direction string

const (
	// Inbound messages travel from the STOMP broker to MQTT.
	Inbound Direction = "inbound"
	// Outbound messages travel from MQTT to the STOMP broker.
	Outbound Direction = "outbound"
)

// Status of a relayed message.
type Status string

const (
	StatusRelayed Status = "relayed"
	StatusFailed  Status = "failed"
)

// Event is a link state transition.
type Event struct {
	ID         string    `json:"id"`
	BridgeID   string    `json:"bridge_id"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Message is one relayed message.
type Message struct {
	ID          string    `json:"id"`
	BridgeID    string    `json:"bridge_id"`
	Direction   Direction `json:"direction"`
	Destination string    `json:"destination"`
	Topic       string    `json:"topic"`
	Size        int       `json:"size"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Count aggregates message_log rows for one direction and status.
type Count struct {
	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`
	Messages  int       `json:"messages"`
	Bytes     int64     `json:"bytes"`
}

// Repository defines the journal operations.
type Repository interface {
	RecordEvent(ctx context.Context, event *Event) error
	RecordMessage(ctx context.Context, msg *Message) error
	RecentEvents(ctx context.Context, bridgeID string, limit int) ([]Event, error)
	MessageCounts(ctx context.Context, bridgeID string, since time.Time) ([]Count, error)
}
