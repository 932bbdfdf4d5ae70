// Package cachelock serializes cache refreshes across processes with an
// advisory lock on a sentinel file in the cache directory.
package cachelock

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brizzbuzz/oploader/internal/errors"
)

// FileName is the sentinel the lock is taken on.
const FileName = "refresh.lock"

// PollInterval is how often Acquire retries a held lock.
const PollInterval = 50 * time.Millisecond

// ErrUnsupported is returned on platforms without an advisory file lock.
var ErrUnsupported = stderrors.New("advisory file locking is not supported on this platform")

// errHeld is what tryLock returns when another holder owns the lock.
var errHeld = stderrors.New("lock is held")

type Lock struct {
	path string
}

func New(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, FileName)}
}

func (l *Lock) Path() string { return l.path }

// Handle is a held lock. Release must be called exactly once by the holder;
// extra calls are no-ops.
type Handle struct {
	ID         string
	AcquiredAt time.Time

	once sync.Once
	f    *os.File
	err  error
}

// Acquire waits up to wait for the lock, polling every PollInterval. It
// returns a LockTimeoutError if the lock is still held when wait elapses and
// ctx.Err() if ctx ends first.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return nil, errors.FileOperationError("Creating cache directory", filepath.Dir(l.path), "Failed to create cache directory", err)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.FileOperationError("Opening lock file", l.path, "Failed to open lock file", err)
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		err := tryLock(f)
		if err == nil {
			break
		}
		if !stderrors.Is(err, errHeld) {
			f.Close()
			if stderrors.Is(err, ErrUnsupported) {
				return nil, err
			}
			return nil, errors.FileOperationError("Locking cache", l.path, "Failed to lock file", err)
		}
		if !time.Now().Before(deadline) {
			f.Close()
			return nil, errors.LockTimeoutError(l.path, wait)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	h := &Handle{ID: uuid.NewString(), AcquiredAt: time.Now(), f: f}
	h.stamp()
	return h, nil
}

// stamp records the holder in the sentinel for operators. Failures are
// ignored; the lock itself is what matters.
func (h *Handle) stamp() {
	if err := h.f.Truncate(0); err != nil {
		return
	}
	_, _ = h.f.WriteAt([]byte(fmt.Sprintf("pid=%d\nid=%s\nacquired=%s\n",
		os.Getpid(), h.ID, h.AcquiredAt.UTC().Format(time.RFC3339))), 0)
}

// Release drops the lock. The sentinel file is left in place.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		unlockErr := unlock(h.f)
		closeErr := h.f.Close()
		if unlockErr != nil {
			h.err = unlockErr
		} else {
			h.err = closeErr
		}
	})
	return h.err
}

// Supported reports whether this platform can take the lock at all.
func Supported() bool {
	return supported
}
