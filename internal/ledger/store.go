package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store mirrors ledger records into a sqlite database so they survive a
// process restart and can be inspected offline. The ledger treats the store
// as best-effort; every method returns errors for the caller to log.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS session_records (
	record_id       TEXT NOT NULL,
	session_type    TEXT NOT NULL,
	session_id      TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	trigger_content TEXT NOT NULL DEFAULT '',
	triggered_at    INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	history         TEXT NOT NULL DEFAULT '[]',
	summary         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_triggered_at ON session_records(triggered_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_type_status ON session_records(session_type, status);
`

// OpenStore opens (creating if needed) the ledger database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// modernc sqlite serializes internally; a single connection avoids
	// SQLITE_BUSY under concurrent mirror writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert writes the current state of a record, replacing any prior row for
// the same session id.
func (s *Store) Upsert(rec *SessionRecord) error {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	_, err = s.db.Exec(`
INSERT INTO session_records
	(record_id, session_type, session_id, status, trigger_content, triggered_at, updated_at, history, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	status = excluded.status,
	updated_at = excluded.updated_at,
	history = excluded.history,
	summary = excluded.summary`,
		rec.RecordID, string(rec.SessionType), rec.SessionID, string(rec.Status),
		rec.TriggerContent, rec.TriggeredAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		string(history), rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.SessionID, err)
	}
	return nil
}

// Load returns every stored record, most recent first.
func (s *Store) Load() ([]SessionRecord, error) {
	rows, err := s.db.Query(`
SELECT record_id, session_type, session_id, status, trigger_content, triggered_at, updated_at, history, summary
FROM session_records
ORDER BY triggered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec                    SessionRecord
			sessionType, status    string
			triggeredAt, updatedAt int64
			history                string
		)
		if err := rows.Scan(&rec.RecordID, &sessionType, &rec.SessionID, &status,
			&rec.TriggerContent, &triggeredAt, &updatedAt, &history, &rec.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.SessionType = SessionType(sessionType)
		rec.Status = RecordStatus(status)
		rec.TriggeredAt = time.Unix(0, triggeredAt)
		rec.UpdatedAt = time.Unix(0, updatedAt)
		if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
			return nil, fmt.Errorf("failed to decode history for %s: %w", rec.SessionID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
