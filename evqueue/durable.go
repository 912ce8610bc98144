package evqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/dbopen"
)

// durableSchema backs critical-event persistence. One row per event,
// keyed by event ID so repeated failed deliveries stay idempotent.
const durableSchema = `
CREATE TABLE IF NOT EXISTS critical_events (
	event_id   TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_critical_events_ts ON critical_events(created_at);
`

// DurableStore persists critical events across navigation and crashes.
// It must be opened before live capture starts so Install can replay.
type DurableStore struct {
	db *sql.DB
}

// OpenDurable opens (creating if needed) the durable store at path.
func OpenDurable(path string) (*DurableStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(durableSchema))
	if err != nil {
		return nil, fmt.Errorf("evqueue: open durable store: %w", err)
	}
	return &DurableStore{db: db}, nil
}

// NewDurableStore wraps an existing database connection, applying the schema.
func NewDurableStore(db *sql.DB) (*DurableStore, error) {
	if _, err := db.Exec(durableSchema); err != nil {
		return nil, fmt.Errorf("evqueue: durable schema: %w", err)
	}
	return &DurableStore{db: db}, nil
}

// Persist writes one critical event. Idempotent per event ID.
func (s *DurableStore) Persist(ctx context.Context, ev *capture.Event) error {
	payload, err := capture.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("evqueue: marshal durable event: %w", err)
	}
	// Re-persisting on a later failed pass must keep the original
	// created_at, or recovery replays criticals out of arrival order.
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO critical_events (event_id, payload, created_at) VALUES (?,?,?)
		 ON CONFLICT(event_id) DO NOTHING`,
		ev.ID, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("evqueue: persist: %w", err)
	}
	return nil
}

// Recover reads back all persisted events in arrival order. Rows that no
// longer parse are skipped; a torn write must never block recovery.
func (s *DurableStore) Recover(ctx context.Context) ([]*capture.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM critical_events ORDER BY created_at, event_id`)
	if err != nil {
		return nil, fmt.Errorf("evqueue: recover: %w", err)
	}
	defer rows.Close()

	var events []*capture.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("evqueue: recover scan: %w", err)
		}
		ev, err := capture.UnmarshalEvent(payload)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Clear removes all persisted events. Called once replay has finished.
func (s *DurableStore) Clear(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM critical_events`)
	if err != nil {
		return fmt.Errorf("evqueue: clear durable store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *DurableStore) Close() error {
	return s.db.Close()
}
