package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker hands out exclusive, context-aware locks keyed by string.
// Keys are never evicted; the key space (projects and cases) is bounded by the data set.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*semaphore.Weighted)}
}

func (l *Locker) get(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[key] = sem
	}
	return sem
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	sem := l.get(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return func() { sem.Release(1) }, nil
}

// Do runs fn while holding key.
func (l *Locker) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// ProjectKey is the lock key guarding a project's module structure.
func ProjectKey(projectID uint) string {
	return fmt.Sprintf("project:%d", projectID)
}

// CaseKey is the lock key guarding a test case's status and steps.
func CaseKey(caseID uint) string {
	return fmt.Sprintf("case:%d", caseID)
}
