// Package lock provides the cross-process writer lock that serialises
// mutations of a device model database.
//
// The daemon holds the lock for its whole lifetime. A CLI invocation
// that opens the database directly takes it for the duration of one
// command, so it cannot race a running daemon or another CLI.
//
// Proof of the lock is a WriterScope, which only Run can hand out.
// Functions that mutate shared state take a WriterScope parameter so the
// compiler rejects callers that never acquired the lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned by TryRun when another process holds the lock.
var ErrHeld = errors.New("writer lock is held by another process")

// WriterScope represents the dynamic execution region in which the
// writer lock is held.
//
// The interface cannot be implemented outside this package due to the
// unexported marker method.
type WriterScope interface {
	// Path returns the lock file.
	Path() string

	// FD returns the raw lock file descriptor (for logging/diagnostics).
	FD() int

	writerScopeMarker()
}

type writerScope struct {
	f *os.File
}

func (*writerScope) writerScopeMarker() {}

func (s *writerScope) Path() string { return s.f.Name() }

func (s *writerScope) FD() int { return int(s.f.Fd()) }

// Run acquires the writer lock, executes fn, then releases it. The lock
// is polled with LOCK_EX|LOCK_NB under exponential backoff so that ctx
// cancellation is honoured while waiting.
func Run(ctx context.Context, path string, fn func(context.Context, WriterScope) error) error {
	f, err := acquire(ctx, path, true)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &writerScope{f: f})
}

// TryRun is Run without waiting: it returns ErrHeld at once when the
// lock is taken.
func TryRun(ctx context.Context, path string, fn func(context.Context, WriterScope) error) error {
	f, err := acquire(ctx, path, false)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &writerScope{f: f})
}

func acquire(ctx context.Context, path string, wait bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		if !wait {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrHeld)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
