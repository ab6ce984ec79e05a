package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"S2CoastalBot/internal/ports"
)

// ErrLocked means another run currently holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// FileLock serialises runs sharing a host through an flock(2) on path.
type FileLock struct {
	path string
}

var _ ports.RunLocker = (*FileLock)(nil)

// NewFileLock returns a lock backed by path; the file is created on demand.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock tries once and returns ErrLocked instead of waiting.
func (l *FileLock) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", l.path, ErrLocked)
	}

	return fl.Unlock, nil
}
