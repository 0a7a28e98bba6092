package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/korpus/pkg/korpus/catalog"
	"github.com/cognicore/korpus/pkg/korpus/internalerr"
)

// sqliteCatalog implements catalog.Catalog using SQLite
type sqliteCatalog struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a catalog database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (catalog.Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %s: %v", internalerr.ErrStoreUnavailable, dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteCatalog{db: db}, nil
}

// Close closes the database connection
func (s *sqliteCatalog) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	dataset TEXT NOT NULL,
	build_id TEXT NOT NULL,
	dir TEXT NOT NULL,
	created_utc TEXT,
	git_commit TEXT,
	counts_json TEXT NOT NULL,
	params_json TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	UNIQUE(dataset, build_id)
);

CREATE INDEX IF NOT EXISTS idx_builds_dataset ON builds(dataset);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Record inserts or refreshes an entry keyed by (dataset, build_id)
func (s *sqliteCatalog) Record(ctx context.Context, e catalog.Entry) error {
	counts, err := json.Marshal(e.Counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	params, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if e.ID == "" {
		e.ID = catalog.NewID(time.Now())
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO builds (id, kind, dataset, build_id, dir, created_utc, git_commit, counts_json, params_json, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dataset, build_id) DO UPDATE SET
	kind=excluded.kind,
	dir=excluded.dir,
	created_utc=excluded.created_utc,
	git_commit=excluded.git_commit,
	counts_json=excluded.counts_json,
	params_json=excluded.params_json;
`, e.ID, string(e.Kind), e.Dataset, e.BuildID, e.Dir, e.CreatedUTC, e.GitCommit,
		string(counts), string(params), e.RecordedAt.UTC().Format(time.RFC3339Nano))
	return err
}

const selectColumns = `SELECT id, kind, dataset, build_id, dir, created_utc, git_commit, counts_json, params_json, recorded_at FROM builds`

// Get returns the entry for a build
func (s *sqliteCatalog) Get(ctx context.Context, dataset, buildID string) (catalog.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE dataset = ? AND build_id = ?`, dataset, buildID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return catalog.Entry{}, false, nil
	}
	if err != nil {
		return catalog.Entry{}, false, err
	}
	return e, true, nil
}

// List returns entries ordered by id, which is time ordered
func (s *sqliteCatalog) List(ctx context.Context, dataset string) ([]catalog.Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if dataset == "" {
		rows, err = s.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectColumns+` WHERE dataset = ? ORDER BY id`, dataset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (catalog.Entry, error) {
	var (
		e                    catalog.Entry
		kind, counts, params string
		createdUTC, commit   sql.NullString
		recordedAt           string
	)
	if err := sc.Scan(&e.ID, &kind, &e.Dataset, &e.BuildID, &e.Dir, &createdUTC, &commit, &counts, &params, &recordedAt); err != nil {
		return catalog.Entry{}, err
	}
	e.Kind = catalog.Kind(kind)
	e.CreatedUTC = createdUTC.String
	e.GitCommit = commit.String

	if err := json.Unmarshal([]byte(counts), &e.Counts); err != nil {
		return catalog.Entry{}, fmt.Errorf("decode counts for %s: %w", e.BuildID, err)
	}
	if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
		return catalog.Entry{}, fmt.Errorf("decode params for %s: %w", e.BuildID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
		e.RecordedAt = t
	}
	return e, nil
}
