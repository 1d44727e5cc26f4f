// Package migrate implements a general SQL migration runner over a
// directory of *.sql files tracked in a ledger table; cmd/migrate is its
// command-line entrypoint.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Migration is one discovered *.sql file.
type Migration struct {
	Version  string // filename without extension, e.g. "0001_create_users"
	Path     string
	Checksum string
	SQL      string
}

// Applied is one row of the _migrations ledger.
type Applied struct {
	Version   string
	Checksum  string
	AppliedAt time.Time
}

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS _migrations (
	version TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
);
`

// Discover reads every *.sql file under dir and sorts them lexicographically
// by filename for deterministic application order.
func Discover(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.NotFound, err, "failed to read migrations directory %q", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to read migration %q", name)
		}
		sum := sha256.Sum256(body)
		migrations = append(migrations, Migration{
			Version:  strings.TrimSuffix(name, ".sql"),
			Path:     path,
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(body),
		})
	}
	return migrations, nil
}

// Runner applies migrations against a pgx pool, tracking them in the
// _migrations ledger.
type Runner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// EnsureLedger creates the _migrations table if it does not already exist.
func (r *Runner) EnsureLedger(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, ledgerDDL); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to create migrations ledger")
	}
	return nil
}

// Applied returns every ledger row, keyed by version.
func (r *Runner) Applied(ctx context.Context) (map[string]Applied, error) {
	rows, err := r.pool.Query(ctx, `SELECT version, checksum, applied_at FROM _migrations`)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to read migrations ledger")
	}
	defer rows.Close()

	out := make(map[string]Applied)
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to scan ledger row")
		}
		out[a.Version] = a
	}
	return out, rows.Err()
}

// Apply runs every not-yet-applied migration in version order, each in its
// own transaction, recording it in the ledger on success. A checksum
// mismatch against a previously applied version is FAILED_PRECONDITION:
// the migration file changed after it was applied, which the runner
// refuses to silently re-apply or skip.
func (r *Runner) Apply(ctx context.Context, migrations []Migration) ([]string, error) {
	if err := r.EnsureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range migrations {
		if prev, ok := applied[m.Version]; ok {
			if prev.Checksum != m.Checksum {
				return ran, mcperrors.New(mcperrors.FailedPrecondition,
					"migration %q has changed since it was applied on %s", m.Version, prev.AppliedAt.Format(time.RFC3339))
			}
			continue
		}

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return ran, mcperrors.Wrap(mcperrors.Internal, err, "failed to begin transaction for %q", m.Version)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return ran, mcperrors.Wrap(mcperrors.Internal, err, "migration %q failed", m.Version)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO _migrations (version, checksum, applied_at) VALUES ($1, $2, $3)`,
			m.Version, m.Checksum, time.Now().UTC()); err != nil {
			_ = tx.Rollback(ctx)
			return ran, mcperrors.Wrap(mcperrors.Internal, err, "failed to record migration %q", m.Version)
		}
		if err := tx.Commit(ctx); err != nil {
			return ran, mcperrors.Wrap(mcperrors.Internal, err, "failed to commit migration %q", m.Version)
		}
		ran = append(ran, m.Version)
		log.Info().Str("version", m.Version).Msg("migration applied")
	}
	return ran, nil
}

// Status reports each discovered migration's applied state without
// running anything, for the db_migration_status tool.
func (r *Runner) Status(ctx context.Context, migrations []Migration) ([]string, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if a, ok := applied[m.Version]; ok {
			out = append(out, fmt.Sprintf("%s applied at %s", m.Version, a.AppliedAt.Format(time.RFC3339)))
		} else {
			out = append(out, fmt.Sprintf("%s pending", m.Version))
		}
	}
	return out, nil
}
