package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// SQLiteRepository writes the journal to SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository over an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordEvent inserts a link state transition. ID and OccurredAt are filled in when empty.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, event *Event) error {
	if event.BridgeID == "" || event.State == "" {
		return fmt.Errorf("%w: event needs bridge_id and state", ErrInvalidEntry)
	}
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (id, bridge_id, state, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.BridgeID, event.State, event.Detail, formatTime(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// RecordMessage inserts a relayed message. ID, Status and OccurredAt are
// filled in when empty; Status defaults to relayed.
func (r *SQLiteRepository) RecordMessage(ctx context.Context, msg *Message) error {
	if msg.BridgeID == "" {
		return fmt.Errorf("%w: message needs bridge_id", ErrInvalidEntry)
	}
	if msg.Direction != Inbound && msg.Direction != Outbound {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidEntry, msg.Direction)
	}
	if msg.Status == "" {
		msg.Status = StatusRelayed
	}
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_log (id, bridge_id, direction, destination, topic, size, status, error, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.BridgeID, string(msg.Direction), msg.Destination, msg.Topic,
		msg.Size, string(msg.Status), msg.Error, formatTime(msg.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message log: %w", err)
	}
	return nil
}

// RecentEvents returns a bridge's latest transitions, newest first.
// limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) RecentEvents(ctx context.Context, bridgeID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, bridge_id, state, detail, occurred_at FROM connection_events
		 WHERE bridge_id = ? ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		bridgeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var occurredAt string
		if err := rows.Scan(&e.ID, &e.BridgeID, &e.State, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

// MessageCounts totals a bridge's relayed messages since the given time,
// grouped by direction and status.
func (r *SQLiteRepository) MessageCounts(ctx context.Context, bridgeID string, since time.Time) ([]Count, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT direction, status, COUNT(*), COALESCE(SUM(size), 0) FROM message_log
		 WHERE bridge_id = ? AND occurred_at >= ?
		 GROUP BY direction, status ORDER BY direction, status`,
		bridgeID, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying message counts: %w", err)
	}
	defer rows.Close()

	counts := []Count{}
	for rows.Next() {
		var c Count
		var direction, status string
		if err := rows.Scan(&direction, &status, &c.Messages, &c.Bytes); err != nil {
			return nil, fmt.Errorf("scanning message count: %w", err)
		}
		c.Direction, c.Status = Direction(direction), Status(status)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message counts: %w", err)
	}
	return counts, nil
}

// Timestamps are stored with fixed-width nanoseconds so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
