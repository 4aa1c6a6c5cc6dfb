// Package journal records the STOMP link's history in SQLite.
//
// Two tables are written, both created by the migrations package:
//   - connection_events: one row per link state transition
//   - message_log: one row per relayed message (size only, never the body)
//
// Usage:
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	err := repo.RecordEvent(ctx, &journal.Event{BridgeID: "stomplink-01", State: "CONNECTED"})
package journal
