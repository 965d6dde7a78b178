package engine

import (
	"context"
	"sync"
	"time"

	"github.com/yaya84/arkab/internal/model"
)

// entityLocks serializes decisions per entity: at most one in-flight decision
// per entity_id, distinct entities in parallel. Each key gets a one-slot
// channel semaphore; waiting is bounded by the configured timeout. Channels
// are kept for the life of the process; the map is bounded by entity
// cardinality, not request volume.
type entityLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newEntityLocks() *entityLocks {
	return &entityLocks{m: make(map[string]chan struct{})}
}

// acquire takes the entity's slot, waiting up to timeout. On success it
// returns the release function; on timeout it returns ErrEntityLockTimeout.
func (l *entityLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	ch, ok := l.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.m[key] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, model.ErrEntityLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
