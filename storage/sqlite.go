package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/songzhibin97/process-engine/types"
)

// SQLiteEventStore stores instance events in SQLite.
//
// The store works with any database/sql SQLite driver; the caller imports one,
// e.g. the pure-Go driver:
//
//	import _ "modernc.org/sqlite"
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

// NewSQLiteEventStore creates the schema if needed and returns the store.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to create event schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instance_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			instance_id TEXT NOT NULL,
			instance_owner_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			created INTEGER NOT NULL,
			user_json TEXT NOT NULL DEFAULT '{}',
			process_json TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_instance_events_instance_id ON instance_events(instance_id, seq);
	`)
	return err
}

// AppendEvents inserts events in order within one transaction.
func (s *SQLiteEventStore) AppendEvents(ctx context.Context, events []types.InstanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instance_events (event_id, instance_id, instance_owner_id, event_type, created, user_json, process_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		user, err := json.Marshal(ev.User)
		if err != nil {
			return fmt.Errorf("failed to marshal user of event %d: %w", ev.ID, err)
		}
		process := ""
		if ev.ProcessInfo != nil {
			raw, err := json.Marshal(ev.ProcessInfo)
			if err != nil {
				return fmt.Errorf("failed to marshal process of event %d: %w", ev.ID, err)
			}
			process = string(raw)
		}
		created := ev.Created
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			int64(ev.ID),
			ev.InstanceID,
			ev.InstanceOwnerID,
			ev.EventType,
			created.UnixNano(),
			string(user),
			process,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEvents returns the events of an instance in insertion order.
func (s *SQLiteEventStore) ListEvents(ctx context.Context, instanceID string) ([]types.InstanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, instance_id, instance_owner_id, event_type, created, user_json, process_json
		FROM instance_events
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.InstanceEvent
	for rows.Next() {
		var (
			eventID  int64
			ev       types.InstanceEvent
			created  int64
			userJSON string
			procJSON string
		)
		if err := rows.Scan(&eventID, &ev.InstanceID, &ev.InstanceOwnerID, &ev.EventType, &created, &userJSON, &procJSON); err != nil {
			return nil, err
		}
		ev.ID = uint64(eventID)
		ev.Created = time.Unix(0, created)
		if err := json.Unmarshal([]byte(userJSON), &ev.User); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user of event %d: %w", ev.ID, err)
		}
		if procJSON != "" {
			ev.ProcessInfo = &types.ProcessState{}
			if err := json.Unmarshal([]byte(procJSON), ev.ProcessInfo); err != nil {
				return nil, fmt.Errorf("failed to unmarshal process of event %d: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
