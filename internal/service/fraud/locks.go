package fraud

import (
	"sync"

	"github.com/google/uuid"
)

// userLocks serializes signal mutation and score recalculation per user so
// two events racing for the same user cannot lose updates. Entries are
// refcounted and freed when the last holder releases.
type userLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{held: make(map[uuid.UUID]*userLock)}
}

// Lock acquires the per-user lock and returns its release func.
func (l *userLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.held[id]
	if !ok {
		entry = &userLock{}
		l.held[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
