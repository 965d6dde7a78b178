package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/model"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(zap.NewNop(), metrics.New(), opts...)
}

func rec(entity string, at time.Time) model.Record {
	return model.Record{
		Evidence: &model.Evidence{
			Source:      "sensor-1",
			Timestamp:   at,
			EntityID:    entity,
			ThreatLevel: model.ThreatSuspicious,
			Confidence:  0.7,
		},
		RecordedAt: at,
	}
}

func TestQueryOrderedByWeightDesc(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	// Insert out of age order; query must come back newest (heaviest) first.
	for _, age := range []time.Duration{20 * time.Minute, 5 * time.Minute, 40 * time.Minute} {
		if err := s.Insert(ctx, rec("host-1", base.Add(-age)), 100, hl, base); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got := s.Query("host-1", 0, hl, base)
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Weight > got[i-1].Weight {
			t.Errorf("weights not descending at %d: %g > %g", i, got[i].Weight, got[i-1].Weight)
		}
	}
	if got[0].Weight <= got[2].Weight {
		t.Error("newest record should weigh the most")
	}
}

func TestQueryWindowFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	s.Insert(ctx, rec("host-1", base.Add(-10*time.Minute)), 100, hl, base)
	s.Insert(ctx, rec("host-1", base.Add(-2*time.Hour)), 100, hl, base)

	got := s.Query("host-1", 30*time.Minute, hl, base)
	if len(got) != 1 {
		t.Fatalf("got %d records inside 30m window, want 1", len(got))
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour
	const capacity = 10

	for i := 0; i < 100; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		if err := s.Insert(ctx, rec("host-1", at), capacity, hl, at); err != nil {
			t.Fatalf("insert %d: invariant violated: %v", i, err)
		}
		if got := s.Len(); got > capacity {
			t.Fatalf("after insert %d: len = %d exceeds capacity %d", i, got, capacity)
		}
	}
	if got := s.Len(); got != capacity {
		t.Errorf("final len = %d, want %d", got, capacity)
	}
}

func TestEvictionRemovesLowestWeightOldestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	oldest := rec("host-a", base.Add(-50*time.Minute))
	middle := rec("host-b", base.Add(-30*time.Minute))
	newest := rec("host-a", base.Add(-5*time.Minute))

	s.Insert(ctx, oldest, 2, hl, base)
	s.Insert(ctx, middle, 2, hl, base)
	// Third insert overflows capacity 2; the oldest (lowest-weight) must go,
	// even though it belongs to a different entity than the incoming record.
	s.Insert(ctx, newest, 2, hl, base)

	if got := s.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
	if got := s.Query("host-a", 0, hl, base); len(got) != 1 {
		t.Errorf("host-a records = %d, want 1 (oldest evicted)", len(got))
	}
	if got := s.Query("host-b", 0, hl, base); len(got) != 1 {
		t.Errorf("host-b records = %d, want 1", len(got))
	}
}

func TestEvictionTieBreaksOldest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Zero half-life disables decay, so every record weighs 1.0 and the tie
	// break on recorded_at decides.
	s.Insert(ctx, rec("host-1", base.Add(-3*time.Minute)), 2, 0, base)
	s.Insert(ctx, rec("host-1", base.Add(-1*time.Minute)), 2, 0, base)
	s.Insert(ctx, rec("host-1", base.Add(-2*time.Minute)), 2, 0, base)

	got := s.Query("host-1", 0, 0, base)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for _, w := range got {
		if w.Record.RecordedAt.Equal(base.Add(-3 * time.Minute)) {
			t.Error("oldest record survived a tie-broken eviction")
		}
	}
}

func TestCompactDropsLowWeightRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	s.Insert(ctx, rec("host-1", base.Add(-10*time.Hour)), 100, hl, base) // weight ~0.001
	s.Insert(ctx, rec("host-1", base.Add(-5*time.Minute)), 100, hl, base)

	dropped := s.Compact(0.01, hl, base)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("len after compact = %d, want 1", got)
	}
}

func TestQueryIdempotentAtSameInstant(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	s.Insert(ctx, rec("host-1", base.Add(-17*time.Minute)), 100, hl, base)

	first := s.Query("host-1", 0, hl, base.Add(time.Minute))
	second := s.Query("host-1", 0, hl, base.Add(time.Minute))
	if first[0].Weight != second[0].Weight {
		t.Errorf("same-instant weights differ: %g != %g", first[0].Weight, second[0].Weight)
	}
}

func TestMemoryGaugeTracksCount(t *testing.T) {
	m := metrics.New()
	s := New(zap.NewNop(), m)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := time.Hour

	// Concurrent inserts: the gauge is published under the store lock, so it
	// must land exactly on the final count with no stale racing write.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				at := base.Add(time.Duration(g*25+i) * time.Second)
				s.Insert(context.Background(), rec("host-1", at), 1000, hl, at)
			}
		}(g)
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.MemoryRecords); got != float64(s.Len()) {
		t.Fatalf("gauge = %g, want %d", got, s.Len())
	}

	s.Insert(context.Background(), rec("host-2", base.Add(-10*time.Hour)), 1000, hl, base)
	dropped := s.Compact(0.01, hl, base.Add(300*time.Second))
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := testutil.ToFloat64(m.MemoryRecords); got != float64(s.Len()) {
		t.Errorf("gauge after compact = %g, want %d", got, s.Len())
	}
}

type capturePort struct {
	recs []model.Record
	fail bool
}

func (p *capturePort) Put(ctx context.Context, rec model.Record) error {
	if p.fail {
		return errors.New("disk on fire")
	}
	p.recs = append(p.recs, rec)
	return nil
}

func TestPersistenceWriteThrough(t *testing.T) {
	port := &capturePort{}
	s := testStore(t, WithPersistence(port))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Insert(context.Background(), rec("host-1", base), 100, time.Hour, base); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(port.recs) != 1 {
		t.Fatalf("persisted %d records, want 1", len(port.recs))
	}
	if !port.recs[0].RecordedAt.Equal(base) {
		t.Errorf("persisted recorded_at = %v, want %v", port.recs[0].RecordedAt, base)
	}
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	port := &capturePort{fail: true}
	s := testStore(t, WithPersistence(port))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Insert(context.Background(), rec("host-1", base), 100, time.Hour, base); err != nil {
		t.Fatalf("Insert must not fail on a broken port: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("len = %d, want 1 (memory stays authoritative)", got)
	}
}

func TestPreloadSkipsPersistenceEcho(t *testing.T) {
	port := &capturePort{}
	s := testStore(t, WithPersistence(port))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Preload([]model.Record{rec("host-1", base.Add(-time.Minute)), rec("host-2", base)}, 100, time.Hour, base)

	if got := s.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
	if len(port.recs) != 0 {
		t.Errorf("preload echoed %d records back to persistence", len(port.recs))
	}
}
