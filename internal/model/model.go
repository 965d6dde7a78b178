// Package model defines the domain types shared by the engine, memory store,
// healing controller, and the intake surface. All types here are immutable
// once created; the enums are closed value sets and every consumer switches
// over them exhaustively.
package model

import (
	"fmt"
	"time"
)

// ThreatLevel classifies an observation's severity.
type ThreatLevel string

const (
	ThreatBenign     ThreatLevel = "benign"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatCritical   ThreatLevel = "critical"
)

// ParseThreatLevel converts a wire string to a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch ThreatLevel(s) {
	case ThreatBenign:
		return ThreatBenign, nil
	case ThreatSuspicious:
		return ThreatSuspicious, nil
	case ThreatCritical:
		return ThreatCritical, nil
	}
	return "", &ValidationError{Field: "threat_level", Reason: fmt.Sprintf("unknown value %q", s)}
}

// Valid reports whether the level is one of the closed set.
func (t ThreatLevel) Valid() bool {
	switch t {
	case ThreatBenign, ThreatSuspicious, ThreatCritical:
		return true
	}
	return false
}

// Action is the mitigation chosen for an entity.
type Action string

const (
	ActionMonitor Action = "monitor"
	ActionBlock   Action = "block"
	ActionIsolate Action = "isolate"
)

// Valid reports whether the action is one of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionMonitor, ActionBlock, ActionIsolate:
		return true
	}
	return false
}

// BackpressureLevel is the load-shedding posture published by the healing
// controller and consulted by the decision engine.
type BackpressureLevel string

const (
	BackpressureNone    BackpressureLevel = "none"
	BackpressureReduced BackpressureLevel = "reduced"
	BackpressureShed    BackpressureLevel = "shed"
)

// BackpressureSignal is the shared cell written only by the healing
// controller. Swapped wholesale, never mutated in place.
type BackpressureSignal struct {
	Level     BackpressureLevel `json:"level"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HealthState is the hysteretic operating state of the system itself.
type HealthState string

const (
	HealthNormal   HealthState = "NORMAL"
	HealthDegraded HealthState = "DEGRADED"
	HealthCritical HealthState = "CRITICAL"
)

// ProblemTag labels a diagnosed operating problem.
type ProblemTag string

const (
	TagCPUPressure      ProblemTag = "cpu_pressure"
	TagMemoryPressure   ProblemTag = "memory_pressure"
	TagOverload         ProblemTag = "overload"
	TagStorePressure    ProblemTag = "store_pressure"
	TagMemoryExhaustion ProblemTag = "memory_exhaustion"
	TagBacklogCritical  ProblemTag = "backlog_critical"
	TagUnknown          ProblemTag = "unknown"
)

// Evidence is a single timestamped security observation about an entity.
type Evidence struct {
	Source      string             `json:"source"`
	Timestamp   time.Time          `json:"timestamp"`
	EntityID    string             `json:"entity_id"`
	ThreatLevel ThreatLevel        `json:"threat_level"`
	Confidence  float64            `json:"confidence"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Validate checks the evidence for malformed fields. It returns a
// *ValidationError describing the first problem found, or nil.
func (e Evidence) Validate() error {
	if e.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "required"}
	}
	if e.Source == "" {
		return &ValidationError{Field: "source", Reason: "required"}
	}
	if !e.ThreatLevel.Valid() {
		return &ValidationError{Field: "threat_level", Reason: fmt.Sprintf("unknown value %q", string(e.ThreatLevel))}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%g outside [0,1]", e.Confidence)}
	}
	return nil
}

// Decision is the mitigation chosen in response to evidence. Produced exactly
// once per evidence item and never revised.
type Decision struct {
	ID            string    `json:"decision_id"`
	Timestamp     time.Time `json:"timestamp"`
	EntityID      string    `json:"entity_id"`
	Action        Action    `json:"action"`
	Confidence    float64   `json:"confidence"`
	Reasoning     string    `json:"reasoning"`
	EvidenceCount int       `json:"evidence_count"`
}

// Record is a memory store entry: the evidence/decision pair produced by one
// decisioning pass, stamped with the instant it was recorded. Weight is never
// stored; it is derived from RecordedAt at read time.
type Record struct {
	Evidence   *Evidence
	Decision   *Decision
	RecordedAt time.Time
}

// EntityID returns the entity the record belongs to.
func (r Record) EntityID() string {
	if r.Evidence != nil {
		return r.Evidence.EntityID
	}
	if r.Decision != nil {
		return r.Decision.EntityID
	}
	return ""
}

// HealthSnapshot is the healing controller's view of the process at one tick.
// Replaced wholesale each tick; read-only to everyone else.
type HealthSnapshot struct {
	State     HealthState  `json:"state"`
	CPUPct    float64      `json:"cpu_pct"`
	MemPct    float64      `json:"mem_pct"`
	Backlog   int          `json:"pending_decision_backlog"`
	StoreSize int          `json:"store_size"`
	Diagnosed []ProblemTag `json:"diagnosed"`
	Timestamp time.Time    `json:"timestamp"`
}
