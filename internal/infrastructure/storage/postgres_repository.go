package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS posted_acquisitions (
	acquisition_id TEXT NOT NULL,
	tile_id        TEXT NOT NULL,
	acquired_at    TIMESTAMPTZ NOT NULL,
	platform       TEXT NOT NULL,
	post_id        TEXT NOT NULL DEFAULT '',
	post_url       TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	posted_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (acquisition_id, platform)
);
CREATE INDEX IF NOT EXISTS posted_acquisitions_posted_at ON posted_acquisitions (posted_at);
`

// PostgresRepository persists posted records into Postgres.
type PostgresRepository struct {
	store recordStore
}

var _ ports.PostedRepository = (*PostgresRepository)(nil)

// OpenPostgres connects with the lib/pq driver and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return NewPostgresRepository(db), nil
}

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{store: recordStore{
		db:          db,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		encodeTime:  func(t time.Time) any { return t },
		isDuplicate: isPostgresDuplicate,
	}}
}

// DB exposes the handle so the run lock can share the connection pool.
func (r *PostgresRepository) DB() *sql.DB {
	return r.store.db
}

// PostedIDs returns every acquisition id posted on any platform.
func (r *PostgresRepository) PostedIDs(ctx context.Context) (map[string]bool, error) {
	return r.store.postedIDs(ctx)
}

// Append inserts one confirmed post.
func (r *PostgresRepository) Append(ctx context.Context, record domain.PostedRecord) error {
	return r.store.append(ctx, record)
}

// Latest returns the most recent post, if any.
func (r *PostgresRepository) Latest(ctx context.Context) (domain.PostedRecord, bool, error) {
	return r.store.latest(ctx)
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]domain.PostedRecord, error) {
	return r.store.list(ctx, limit)
}

// Close releases the database handle.
func (r *PostgresRepository) Close() error {
	return r.store.db.Close()
}

func isPostgresDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
