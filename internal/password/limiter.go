package password

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Limited bounds how many hash or verify calls run at once so CPU heavy
// hashing cannot starve the rest of the process.
type Limited struct {
	next Hasher
	sem  *semaphore.Weighted
}

// NewLimited wraps next; n <= 0 uses runtime.NumCPU().
func NewLimited(next Hasher, n int) *Limited {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(int64(n))}
}

// Hash waits for a slot, honouring ctx, then delegates.
func (l *Limited) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.next.Hash(ctx, plaintext)
}

// Verify waits for a slot, honouring ctx, then delegates.
func (l *Limited) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer l.sem.Release(1)
	return l.next.Verify(ctx, plaintext, encoded)
}

func (l *Limited) NeedsRehash(encoded string) bool {
	return l.next.NeedsRehash(encoded)
}
