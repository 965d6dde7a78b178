// Package engine is the decision core: it scores incoming evidence against
// the entity's decayed history, consults the backpressure signal, and emits
// exactly one Decision per evidence item, writing the pair back into memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yaya84/arkab/internal/config"
	"github.com/yaya84/arkab/internal/healing"
	"github.com/yaya84/arkab/internal/memory"
	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/model"
)

// Engine orchestrates scoring, memory context, and backpressure into
// decisions.
type Engine struct {
	cfg     *config.Store
	store   *memory.Store
	bp      *healing.Backpressure
	locks   *entityLocks
	metrics *metrics.Metrics
	logger  *zap.Logger

	clock     func() time.Time
	decisions atomic.Int64
	inflight  atomic.Int64
}

// New creates an Engine. The backpressure cell is read-only here; only the
// healing controller writes it.
func New(cfg *config.Store, store *memory.Store, bp *healing.Backpressure, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		bp:      bp,
		locks:   newEntityLocks(),
		metrics: m,
		logger:  logger,
		clock:   time.Now,
	}
}

// Result is one slot of a batch response: a decision or the error that
// replaced it. Exactly one of the two is set.
type Result struct {
	Decision *model.Decision
	Err      error
}

// Process scores one evidence item and returns its Decision. The whole call
// runs under one configuration snapshot and under the entity's lock, so the
// context read never races this engine's own write-back for that entity.
func (e *Engine) Process(ctx context.Context, ev model.Evidence) (*model.Decision, error) {
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	cfg := e.cfg.Snapshot()
	if cfg == nil {
		e.logger.Error("decision refused: no configuration snapshot")
		return nil, model.ErrConfigUnavailable
	}

	if err := ev.Validate(); err != nil {
		e.metrics.ValidationErrors.Inc()
		return nil, err
	}

	release, err := e.locks.acquire(ctx, ev.EntityID, cfg.Batch.EntityLockTimeout.Std())
	if err != nil {
		if errors.Is(err, model.ErrEntityLockTimeout) {
			e.metrics.LockTimeouts.Inc()
			return nil, fmt.Errorf("entity %s: %w", ev.EntityID, err)
		}
		return nil, err
	}
	defer release()

	now := e.clock()
	records := e.store.Query(ev.EntityID, cfg.Memory.Lookback.Std(), cfg.Memory.HalfLife.Std(), now)

	base := cfg.Scoring.Severity(ev.ThreatLevel) * ev.Confidence
	contextScore := 0.0
	for _, w := range records {
		contextScore += w.Weight * recordSeverity(cfg.Scoring, w.Record)
	}
	// The raw sum is unbounded; clamp so final stays comparable against the
	// threshold table for arbitrarily deep histories.
	if contextScore > 1 {
		contextScore = 1
	}
	final := cfg.Scoring.Alpha*base + (1-cfg.Scoring.Alpha)*contextScore

	sig := e.bp.Load()
	action, note := chooseAction(ev, final, sig.Level, cfg.Scoring)

	dec := &model.Decision{
		ID:            uuid.NewString(),
		Timestamp:     now,
		EntityID:      ev.EntityID,
		Action:        action,
		Confidence:    decisionConfidence(action, ev.Confidence),
		Reasoning:     reasoning(ev, base, contextScore, len(records), final, sig.Level, action, note),
		EvidenceCount: 1 + len(records),
	}

	rec := model.Record{Evidence: &ev, Decision: dec, RecordedAt: now}
	if err := e.store.Insert(ctx, rec, cfg.Memory.Capacity, cfg.Memory.HalfLife.Std(), now); err != nil {
		// Store invariant violations are an internal defect, alarmed by the
		// store itself; the decision already made still stands.
		e.logger.Error("memory write-back failed", zap.String("entity_id", ev.EntityID), zap.Error(err))
	}

	e.decisions.Add(1)
	e.metrics.Decisions.WithLabelValues(string(action)).Inc()
	return dec, nil
}

// ProcessBatch fans items out across a bounded worker pool. The result slice
// preserves input order and isolates failures per slot: one bad item never
// aborts its siblings.
func (e *Engine) ProcessBatch(ctx context.Context, evs []model.Evidence) []Result {
	results := make([]Result, len(evs))

	workers := 1
	if cfg := e.cfg.Snapshot(); cfg != nil {
		workers = cfg.Batch.Workers
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, ev := range evs {
		i, ev := i, ev
		g.Go(func() error {
			dec, err := e.Process(ctx, ev)
			results[i] = Result{Decision: dec, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// DecisionCount returns the number of decisions emitted since start.
func (e *Engine) DecisionCount() int64 {
	return e.decisions.Load()
}

// Backlog reports in-flight decisions; the healing controller samples it as
// the pending-decision depth.
func (e *Engine) Backlog() int {
	return int(e.inflight.Load())
}

// recordSeverity scores a memory record for context: evidence by its threat
// level, a bare decision by the action it took, each scaled by confidence.
func recordSeverity(s config.ScoringConfig, rec model.Record) float64 {
	if rec.Evidence != nil {
		return s.Severity(rec.Evidence.ThreatLevel) * rec.Evidence.Confidence
	}
	if rec.Decision != nil {
		return s.ActionSeverity(rec.Decision.Action) * rec.Decision.Confidence
	}
	return 0
}

// chooseAction maps the final score through the threshold table under the
// current backpressure level. At an exact threshold the more conservative
// action wins (isolate over block over monitor). Under shed, only critical
// evidence at or above the safety floor escalates; that override is never
// shed.
func chooseAction(ev model.Evidence, final float64, level model.BackpressureLevel, s config.ScoringConfig) (model.Action, string) {
	blockAt, isolateAt := s.BlockThreshold, s.IsolateThreshold
	note := ""

	switch level {
	case model.BackpressureNone:
	case model.BackpressureReduced:
		blockAt += s.BackpressureMargin
		isolateAt += s.BackpressureMargin
		note = "thresholds raised"
	case model.BackpressureShed:
		if ev.ThreatLevel == model.ThreatCritical && ev.Confidence >= s.SafetyFloor {
			return model.ActionIsolate, "safety override"
		}
		return model.ActionMonitor, "load shed"
	}

	switch {
	case final >= isolateAt:
		return model.ActionIsolate, note
	case final >= blockAt:
		return model.ActionBlock, note
	}
	return model.ActionMonitor, note
}

// decisionConfidence adjusts the evidence confidence by the action taken:
// escalation to isolate adds conviction, monitoring discounts it.
func decisionConfidence(a model.Action, confidence float64) float64 {
	switch a {
	case model.ActionIsolate:
		return math.Min(confidence+0.1, 1.0)
	case model.ActionBlock:
		return confidence
	case model.ActionMonitor:
		return confidence * 0.8
	}
	return confidence
}

// reasoning renders the contributing factors deterministically: identical
// inputs at identical memory state always produce identical text.
func reasoning(ev model.Evidence, base, contextScore float64, records int, final float64, level model.BackpressureLevel, action model.Action, note string) string {
	msg := fmt.Sprintf("threat=%s base=%.3f context=%.3f records=%d final=%.3f backpressure=%s action=%s",
		ev.ThreatLevel, base, contextScore, records, final, level, action)
	if note != "" {
		msg += " (" + note + ")"
	}
	return msg
}
