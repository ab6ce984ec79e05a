package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"S2CoastalBot/internal/ports"
)

// AdvisoryKey identifies the bot among other pg_advisory_lock users.
const AdvisoryKey int64 = 0x5332436f617374

// PostgresLock serialises runs sharing a database through a session level
// advisory lock held on a dedicated connection.
type PostgresLock struct {
	db  *sql.DB
	key int64
}

var _ ports.RunLocker = (*PostgresLock)(nil)

// NewPostgresLock uses key on db.
func NewPostgresLock(db *sql.DB, key int64) *PostgresLock {
	return &PostgresLock{db: db, key: key}
}

// Lock tries once and returns ErrLocked instead of waiting.
func (l *PostgresLock) Lock(ctx context.Context) (func() error, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory key %d: %w", l.key, ErrLocked)
	}

	unlock := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, execErr := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key)
		closeErr := conn.Close()
		if execErr != nil {
			return fmt.Errorf("advisory unlock: %w", execErr)
		}
		return closeErr
	}
	return unlock, nil
}
