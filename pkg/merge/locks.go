package merge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LockManager provides exclusive, in-process locks keyed by account ID.
// Locks are always acquired in ascending ID order so two jobs with
// overlapping ID sets cannot deadlock; the later arrival either waits within
// its deadline or fails with Locked.
type LockManager struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		held: make(map[string]chan struct{}),
	}
}

// AcquireAll takes exclusive locks on every ID, in ascending order, waiting
// at most maxWait overall (bounded further by ctx). On success it returns a
// release function; on failure it releases anything it took and returns a
// Locked error.
func (m *LockManager) AcquireAll(ctx context.Context, ids []string, maxWait time.Duration) (func(), error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	deadline := time.Now().Add(maxWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	acquired := make([]string, 0, len(sorted))
	release := func() {
		m.mu.Lock()
		for _, id := range acquired {
			if ch, ok := m.held[id]; ok {
				delete(m.held, id)
				close(ch)
			}
		}
		m.mu.Unlock()
	}

	for _, id := range sorted {
		if err := m.acquireOne(ctx, id, deadline); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, id)
	}

	return release, nil
}

func (m *LockManager) acquireOne(ctx context.Context, id string, deadline time.Time) error {
	for {
		m.mu.Lock()
		ch, taken := m.held[id]
		if !taken {
			m.held[id] = make(chan struct{})
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return NewError(CodeLocked, "timed out waiting for lock on %s", id)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ch:
			timer.Stop()
			// Holder released; retry the take
		case <-timer.C:
			return NewError(CodeLocked, "timed out waiting for lock on %s", id)
		case <-ctx.Done():
			timer.Stop()
			return WrapError(CodeLocked, ctx.Err(), "lock wait cancelled for %s", id)
		}
	}
}

// Held reports whether the given ID is currently locked. Intended for tests
// and diagnostics.
func (m *LockManager) Held(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[id]
	return ok
}
