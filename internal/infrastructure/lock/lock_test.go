package lock

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/lib/pq"
)

func TestFileLockIsExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "bot.lock")
	first := NewFileLock(path)
	second := NewFileLock(path)

	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := second.Lock(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while held, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	unlock, err = second.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = unlock()
}

func TestFileLockHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileLock(filepath.Join(t.TempDir(), "bot.lock")).Lock(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPostgresLockIsExclusive(t *testing.T) {
	dsn := os.Getenv("S2COASTALBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("S2COASTALBOT_TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	l := NewPostgresLock(db, AdvisoryKey+1)
	unlock, err := l.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := l.Lock(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
