// Package healing watches the orchestrator's own operating health on an
// independent schedule. Each tick it samples resource metrics, diagnoses
// problem tags, steps a hysteretic state machine, and publishes a
// backpressure signal the decision engine reads before scoring. Controller
// failures never reach the request path.
package healing

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/config"
	"github.com/yaya84/arkab/internal/memory"
	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/model"
)

// BacklogSource reports the depth of the pending decision backlog.
type BacklogSource interface {
	Backlog() int
}

// Controller runs the healing loop.
type Controller struct {
	cfg     *config.Store
	store   *memory.Store
	backlog BacklogSource
	sampler Sampler
	bp      *Backpressure
	metrics *metrics.Metrics
	logger  *zap.Logger

	clock func() time.Time
	fsm   fsm
	snap  atomic.Pointer[model.HealthSnapshot]
}

// NewController wires a controller. It does not start the loop; call Run.
func NewController(cfg *config.Store, store *memory.Store, backlog BacklogSource, sampler Sampler, bp *Backpressure, m *metrics.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		store:   store,
		backlog: backlog,
		sampler: sampler,
		bp:      bp,
		metrics: m,
		logger:  logger,
		clock:   time.Now,
		fsm:     newFSM(),
	}
}

// Run ticks at the configured interval until ctx is cancelled. One tick runs
// immediately at startup. Interval changes apply on restart; every other
// healing knob is re-read from the config snapshot each tick.
func (c *Controller) Run(ctx context.Context) {
	snapshot := c.cfg.Snapshot()
	if snapshot == nil {
		c.logger.Error("healing controller cannot start without configuration")
		return
	}

	ticker := time.NewTicker(snapshot.Healing.Interval.Std())
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-ctx.Done():
			c.logger.Info("healing controller stopped")
			return
		}
	}
}

// Health returns the latest snapshot; before the first tick the system is
// reported NORMAL with nothing diagnosed.
func (c *Controller) Health() model.HealthSnapshot {
	if snap := c.snap.Load(); snap != nil {
		return *snap
	}
	return model.HealthSnapshot{State: model.HealthNormal}
}

func (c *Controller) tick(ctx context.Context) {
	cfg := c.cfg.Snapshot()
	if cfg == nil {
		c.logger.Error("healing tick skipped: no configuration snapshot")
		return
	}
	now := c.clock()
	backlog := c.backlog.Backlog()
	storeSize := c.store.Len()

	var tags []model.ProblemTag
	cpuPct, memPct, err := c.sampler.Sample()
	if err != nil {
		// Sampling failures are downgraded to a marker and retried next
		// tick. They must never reach the request path or crash the loop.
		c.logger.Warn("metric sampling failed, retrying next tick", zap.Error(err))
		tags = []model.ProblemTag{model.TagUnknown}
	} else {
		tags = diagnose(cpuPct, memPct, backlog, storeSize, cfg)
	}

	hasModerate, hasSevere := classify(tags)
	prev := c.fsm.state
	state := c.fsm.step(hasModerate, hasSevere, len(tags) == 0, cfg.Healing)

	c.snap.Store(&model.HealthSnapshot{
		State:     state,
		CPUPct:    cpuPct,
		MemPct:    memPct,
		Backlog:   backlog,
		StoreSize: storeSize,
		Diagnosed: tags,
		Timestamp: now,
	})
	c.metrics.SetHealthState(state)

	if state != prev {
		c.transition(prev, state, cfg, now)
	}
}

func (c *Controller) transition(from, to model.HealthState, cfg *config.Config, now time.Time) {
	c.logger.Info("health state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	switch to {
	case model.HealthNormal:
		c.bp.Set(model.BackpressureNone, now)
	case model.HealthDegraded:
		c.bp.Set(model.BackpressureReduced, now)
	case model.HealthCritical:
		c.bp.Set(model.BackpressureShed, now)
		dropped := c.store.Compact(cfg.Memory.Epsilon, cfg.Memory.HalfLife.Std(), now)
		c.logger.Warn("critical state: compacted memory store",
			zap.Int("dropped", dropped),
			zap.Float64("epsilon", cfg.Memory.Epsilon),
		)
	}
}

// diagnose applies the threshold rules to one tick's readings.
func diagnose(cpuPct, memPct float64, backlog, storeSize int, cfg *config.Config) []model.ProblemTag {
	h := cfg.Healing
	var tags []model.ProblemTag

	if memPct >= h.MemCritPct {
		tags = append(tags, model.TagMemoryExhaustion)
	} else if memPct >= h.MemWarnPct {
		tags = append(tags, model.TagMemoryPressure)
	}
	if cpuPct >= h.CPUWarnPct {
		tags = append(tags, model.TagCPUPressure)
	}
	if backlog >= h.BacklogCrit {
		tags = append(tags, model.TagBacklogCritical)
	} else if backlog >= h.BacklogWarn {
		tags = append(tags, model.TagOverload)
	}
	if float64(storeSize) >= h.StoreWarnPct*float64(cfg.Memory.Capacity) {
		tags = append(tags, model.TagStorePressure)
	}
	return tags
}

// classify splits diagnosed tags into moderate and severe. The unknown
// marker is neither: it blocks recovery (the tick is not clean) without
// escalating.
func classify(tags []model.ProblemTag) (hasModerate, hasSevere bool) {
	for _, tag := range tags {
		switch tag {
		case model.TagMemoryExhaustion, model.TagBacklogCritical:
			hasSevere = true
		case model.TagCPUPressure, model.TagMemoryPressure, model.TagOverload, model.TagStorePressure:
			hasModerate = true
		case model.TagUnknown:
		}
	}
	return hasModerate, hasSevere
}
