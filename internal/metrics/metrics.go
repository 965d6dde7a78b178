// Package metrics holds the process-local Prometheus instruments. A fresh
// registry is built per system instance so tests never share collector state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yaya84/arkab/internal/model"
)

// Metrics bundles every instrument the orchestrator exports.
type Metrics struct {
	registry *prometheus.Registry

	Decisions           *prometheus.CounterVec
	ValidationErrors    prometheus.Counter
	LockTimeouts        prometheus.Counter
	MemoryRecords       prometheus.Gauge
	Evictions           prometheus.Counter
	Compactions         prometheus.Counter
	StoreInvariantTrips prometheus.Counter
	HealthState         prometheus.Gauge
}

// New builds the instrument set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arkab_decisions_total",
			Help: "Decisions emitted, by action.",
		}, []string{"action"}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "arkab_validation_errors_total",
			Help: "Evidence items rejected as malformed.",
		}),
		LockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "arkab_entity_lock_timeouts_total",
			Help: "Decisions abandoned waiting on per-entity serialization.",
		}),
		MemoryRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arkab_memory_records",
			Help: "Records currently held by the memory store.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "arkab_memory_evictions_total",
			Help: "Records evicted on capacity overflow.",
		}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "arkab_memory_compactions_total",
			Help: "Records dropped by epsilon compaction.",
		}),
		StoreInvariantTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "arkab_store_invariant_violations_total",
			Help: "Internal alarm: store over capacity after eviction.",
		}),
		HealthState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arkab_health_state",
			Help: "Current health state: 0 NORMAL, 1 DEGRADED, 2 CRITICAL.",
		}),
	}
}

// SetHealthState records the numeric health state gauge.
func (m *Metrics) SetHealthState(s model.HealthState) {
	switch s {
	case model.HealthNormal:
		m.HealthState.Set(0)
	case model.HealthDegraded:
		m.HealthState.Set(1)
	case model.HealthCritical:
		m.HealthState.Set(2)
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
