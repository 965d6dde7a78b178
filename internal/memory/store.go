// Package memory is the time-decayed record store. It owns every
// MemoryRecord, derives weights through the decay clock at read time (weight
// is never stored or mutated), and bounds growth with weight-based eviction
// and epsilon compaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/decay"
	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/model"
)

// Persistence is the optional durable port. Writes happen outside the store's
// critical section; a failing port degrades to memory-only operation.
type Persistence interface {
	Put(ctx context.Context, rec model.Record) error
}

// Weighted pairs a record with its weight computed at query time.
type Weighted struct {
	Record model.Record
	Weight float64
}

// Store holds records per entity behind one short-critical-section lock.
// No I/O and no unbounded computation happens while the lock is held.
type Store struct {
	mu       sync.Mutex
	byEntity map[string][]model.Record
	count    int

	persistence Persistence
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence enables write-through to a durable port, guarded by a
// circuit breaker so a broken disk never stalls the decision path.
func WithPersistence(p Persistence) Option {
	return func(s *Store) {
		s.persistence = p
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "persistence",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		})
	}
}

// New creates an empty Store.
func New(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Store {
	s := &Store{
		byEntity: make(map[string][]model.Record),
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Insert adds a record and evicts the globally lowest-weight records while
// the store is over capacity (ties broken toward the oldest recorded_at).
// The returned error is only ever ErrStoreInvariant, a logged defect, not a
// caller-recoverable condition.
func (s *Store) Insert(ctx context.Context, rec model.Record, capacity int, halfLife time.Duration, now time.Time) error {
	s.mu.Lock()
	entity := rec.EntityID()
	s.byEntity[entity] = append(s.byEntity[entity], rec)
	s.count++

	var violated bool
	for s.count > capacity {
		if !s.evictLowestLocked(halfLife, now) {
			violated = true
			break
		}
	}
	count := s.count
	// Gauge update stays inside the critical section so racing inserts cannot
	// publish counts out of order.
	s.metrics.MemoryRecords.Set(float64(count))
	s.mu.Unlock()

	if violated {
		// Provably impossible under correct eviction; alarm if it ever fires.
		s.metrics.StoreInvariantTrips.Inc()
		s.logger.Error("store invariant violated: over capacity after eviction",
			zap.Int("count", count),
			zap.Int("capacity", capacity),
		)
		return model.ErrStoreInvariant
	}

	s.persist(ctx, rec)
	return nil
}

// Preload inserts records without echoing them back to the durable port.
// Used to warm the store from persistence on startup; recorded_at stamps are
// taken as stored so decay picks up where it left off.
func (s *Store) Preload(recs []model.Record, capacity int, halfLife time.Duration, now time.Time) {
	s.mu.Lock()
	for _, rec := range recs {
		entity := rec.EntityID()
		s.byEntity[entity] = append(s.byEntity[entity], rec)
		s.count++
		for s.count > capacity {
			if !s.evictLowestLocked(halfLife, now) {
				break
			}
		}
	}
	s.metrics.MemoryRecords.Set(float64(s.count))
	s.mu.Unlock()
}

// Query returns the entity's records within the lookback window, weighted at
// now and ordered by weight descending. A window <= 0 means no window bound.
func (s *Store) Query(entityID string, window, halfLife time.Duration, now time.Time) []Weighted {
	s.mu.Lock()
	recs := s.byEntity[entityID]
	matched := make([]model.Record, 0, len(recs))
	for _, rec := range recs {
		if window > 0 && now.Sub(rec.RecordedAt) > window {
			continue
		}
		matched = append(matched, rec)
	}
	s.mu.Unlock()

	// Weight computation happens off-lock; it is pure, so concurrent queries
	// at the same instant agree without synchronization.
	out := make([]Weighted, len(matched))
	for i, rec := range matched {
		out[i] = Weighted{Record: rec, Weight: decay.Weight(rec.RecordedAt, now, halfLife)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// Compact drops every record whose weight has fallen below epsilon,
// amortizing unbounded growth. Returns the number of records dropped.
func (s *Store) Compact(epsilon float64, halfLife time.Duration, now time.Time) int {
	s.mu.Lock()
	dropped := 0
	for entity, recs := range s.byEntity {
		kept := recs[:0]
		for _, rec := range recs {
			if decay.Weight(rec.RecordedAt, now, halfLife) < epsilon {
				dropped++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.byEntity, entity)
		} else {
			s.byEntity[entity] = kept
		}
	}
	s.count -= dropped
	if dropped > 0 {
		s.metrics.MemoryRecords.Set(float64(s.count))
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.metrics.Compactions.Add(float64(dropped))
	}
	return dropped
}

// evictLowestLocked removes the single globally lowest-weight record, ties
// broken by oldest recorded_at. Caller holds s.mu. Returns false if the
// store holds no records.
func (s *Store) evictLowestLocked(halfLife time.Duration, now time.Time) bool {
	var (
		found      bool
		bestEntity string
		bestIdx    int
		bestWeight float64
		bestAt     time.Time
	)

	for entity, recs := range s.byEntity {
		for i, rec := range recs {
			w := decay.Weight(rec.RecordedAt, now, halfLife)
			if !found || w < bestWeight || (w == bestWeight && rec.RecordedAt.Before(bestAt)) {
				found = true
				bestEntity = entity
				bestIdx = i
				bestWeight = w
				bestAt = rec.RecordedAt
			}
		}
	}
	if !found {
		return false
	}

	recs := s.byEntity[bestEntity]
	s.byEntity[bestEntity] = append(recs[:bestIdx], recs[bestIdx+1:]...)
	if len(s.byEntity[bestEntity]) == 0 {
		delete(s.byEntity, bestEntity)
	}
	s.count--
	s.metrics.Evictions.Inc()
	return true
}

func (s *Store) persist(ctx context.Context, rec model.Record) {
	if s.persistence == nil {
		return
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.persistence.Put(ctx, rec)
	})
	if err != nil {
		s.logger.Warn("persistence write skipped, memory remains authoritative",
			zap.String("entity_id", rec.EntityID()),
			zap.Error(err),
		)
	}
}
