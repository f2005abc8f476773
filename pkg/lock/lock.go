package lock

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes mutations on named resource keys. Callers pass every key
// their operation touches in one Acquire call; implementations take them in
// sorted order so two operations contending on overlapping key sets cannot
// deadlock.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// MemoryLocker is a process-local lock table. Correct for a single instance;
// multi-instance deployments should use the redis-backed locker instead.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemoryLocker creates an empty in-process lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

// Acquire blocks until every key is held or the context is done.
func (l *MemoryLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	sorted := dedupeSorted(keys)
	acquired := make([]string, 0, len(sorted))
	for _, key := range sorted {
		if err := l.acquireOne(ctx, key); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				l.releaseOne(acquired[i])
			}
			return nil, err
		}
		acquired = append(acquired, key)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				l.releaseOne(acquired[i])
			}
		})
	}
	return release, nil
}

func (l *MemoryLocker) acquireOne(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		waiter, taken := l.held[key]
		if !taken {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-waiter:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *MemoryLocker) releaseOne(key string) {
	l.mu.Lock()
	if waiter, ok := l.held[key]; ok {
		delete(l.held, key)
		close(waiter)
	}
	l.mu.Unlock()
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
