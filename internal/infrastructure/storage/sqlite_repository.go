package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
)

// fixed width so that text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posted_acquisitions (
	acquisition_id TEXT NOT NULL,
	tile_id        TEXT NOT NULL,
	acquired_at    TEXT NOT NULL,
	platform       TEXT NOT NULL,
	post_id        TEXT NOT NULL DEFAULT '',
	post_url       TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	posted_at      TEXT NOT NULL,
	PRIMARY KEY (acquisition_id, platform)
);
CREATE INDEX IF NOT EXISTS posted_acquisitions_posted_at ON posted_acquisitions (posted_at);
`

// SQLiteRepository persists posted records into an embedded SQLite file.
type SQLiteRepository struct {
	store recordStore
}

var _ ports.PostedRepository = (*SQLiteRepository)(nil)

// OpenSQLite opens (and creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return NewSQLiteRepository(db), nil
}

// NewSQLiteRepository wires an already migrated sql.DB.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{store: recordStore{
		db:          db,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		encodeTime:  func(t time.Time) any { return t.Format(sqliteTimeLayout) },
		isDuplicate: isSQLiteDuplicate,
	}}
}

// PostedIDs returns every acquisition id posted on any platform.
func (r *SQLiteRepository) PostedIDs(ctx context.Context) (map[string]bool, error) {
	return r.store.postedIDs(ctx)
}

// Append inserts one confirmed post.
func (r *SQLiteRepository) Append(ctx context.Context, record domain.PostedRecord) error {
	return r.store.append(ctx, record)
}

// Latest returns the most recent post, if any.
func (r *SQLiteRepository) Latest(ctx context.Context) (domain.PostedRecord, bool, error) {
	return r.store.latest(ctx)
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]domain.PostedRecord, error) {
	return r.store.list(ctx, limit)
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.store.db.Close()
}

func isSQLiteDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
