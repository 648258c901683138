// Package journal persists session events in SQLite so a host can replay
// what a session went through after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS preview_events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	version     INTEGER NOT NULL,
	generation  INTEGER NOT NULL,
	transition  TEXT NOT NULL DEFAULT '',
	diagnostics TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_preview_events_session ON preview_events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_preview_events_created ON preview_events(created_at);
`

// Journal is an event sink backed by the preview_events table.
type Journal struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
}

// Open opens (or creates) the journal database at path. ":memory:" gives a
// private in-memory journal.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := open(path, defaults())
	if err != nil {
		return nil, err
	}
	j, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// New creates a journal on an existing database, applying the schema.
// The caller keeps ownership of db.
func New(db *sql.DB, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// DB exposes the underlying database.
func (j *Journal) DB() *sql.DB { return j.db }

// Emit records one event. Replayed events with a known id are ignored.
func (j *Journal) Emit(ctx context.Context, ev event.Event) error {
	diags := []byte("[]")
	if len(ev.Diagnostics) > 0 {
		var err error
		if diags, err = json.Marshal(ev.Diagnostics); err != nil {
			return fmt.Errorf("journal: marshal diagnostics: %w", err)
		}
	}
	_, err := execRetry(ctx, j.db,
		`INSERT OR IGNORE INTO preview_events
		 (id, session_id, stage, version, generation, transition, diagnostics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Stage), ev.Version, int64(ev.Generation),
		ev.Transition, string(diags), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("journal: emit: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest events of a session, oldest
// first.
func (j *Journal) Recent(ctx context.Context, session string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, stage, version, generation, transition, diagnostics, created_at
		 FROM (
			SELECT *, rowid AS seq FROM preview_events
			WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		 ) ORDER BY created_at ASC, seq ASC`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var stage, diags string
		var gen int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &stage, &ev.Version, &gen,
			&ev.Transition, &diags, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Stage = event.Stage(stage)
		ev.Generation = uint64(gen)
		if diags != "[]" {
			var list diag.List
			if err := json.Unmarshal([]byte(diags), &list); err != nil {
				j.logger.Warn("journal: bad diagnostics row", "id", ev.ID, "error", err)
			}
			ev.Diagnostics = list
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return out, nil
}

// Cleanup deletes events older than retention and returns how many went.
func (j *Journal) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := execRetry(ctx, j.db, `DELETE FROM preview_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.Info("journal: cleanup", "deleted", n, "retention", retention)
	}
	return n, nil
}

// Close closes the database when the journal opened it.
func (j *Journal) Close() error {
	if !j.owned {
		return nil
	}
	return j.db.Close()
}
