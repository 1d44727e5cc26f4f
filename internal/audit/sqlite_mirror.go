package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// sqliteMirror durably persists every audit entry, surviving process
// restarts the way the in-memory ring buffer cannot.
type sqliteMirror struct {
	db *sql.DB
}

// NewSQLiteMirror opens (creating if necessary) a sqlite-backed audit
// mirror at path.
func NewSQLiteMirror(path string) (*sqliteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to open audit mirror")
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL,
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	decision TEXT NOT NULL,
	risk TEXT NOT NULL,
	actor TEXT NOT NULL,
	detail TEXT NOT NULL,
	signature TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_recorded_at ON audit_entries(recorded_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to initialize audit schema")
	}
	return &sqliteMirror{db: db}, nil
}

func (m *sqliteMirror) insert(e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`
INSERT INTO audit_entries (id, recorded_at, tenant_id, action, target, decision, risk, actor, detail, signature)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Unix(), e.TenantID, e.Action, e.Target, e.Decision, e.Risk, e.Actor, string(detail), e.Signature)
	return err
}

// Since returns every mirrored entry recorded at or after t, oldest first.
func (m *sqliteMirror) Since(t time.Time) ([]Entry, error) {
	rows, err := m.db.Query(`
SELECT id, recorded_at, tenant_id, action, target, decision, risk, actor, detail, signature
FROM audit_entries WHERE recorded_at >= ? ORDER BY recorded_at ASC`, t.Unix())
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to query audit mirror")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var recordedAt int64
		var detail string
		if err := rows.Scan(&e.ID, &recordedAt, &e.TenantID, &e.Action, &e.Target, &e.Decision, &e.Risk, &e.Actor, &detail, &e.Signature); err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to scan audit row")
		}
		e.Timestamp = time.Unix(recordedAt, 0).UTC()
		_ = json.Unmarshal([]byte(detail), &e.Detail)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *sqliteMirror) Close() error {
	return m.db.Close()
}
