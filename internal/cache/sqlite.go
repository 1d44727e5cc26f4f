package cache

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// sqliteL2 is the optional second-tier cache: survives process restarts,
// backed by modernc.org/sqlite the same way the rest of this codebase
// reaches for an embedded store, with a "sqlite" driver registered via
// blank import rather than cgo's mattn/go-sqlite3.
type sqliteL2 struct {
	db *sql.DB
}

func newSQLiteL2(path string) (*sqliteL2, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to open cache database")
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to initialize cache schema")
	}
	return &sqliteL2{db: db}, nil
}

func (s *sqliteL2) get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		return nil, false
	}
	if expiresAt != 0 && time.Now().Unix() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false
	}
	return value, true
}

func (s *sqliteL2) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, _ = s.db.ExecContext(ctx, `
INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
}

func (s *sqliteL2) deletePrefix(ctx context.Context, prefix string) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ? || '%'`, prefix)
}

func (s *sqliteL2) clear(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
}

func (s *sqliteL2) close() error {
	return s.db.Close()
}
