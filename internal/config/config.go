// Package config holds all arkab configuration: typed sections with
// defaults, YAML loading, validation, and an atomically swapped snapshot so
// every decision in flight sees one consistent version end to end.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yaya84/arkab/internal/model"
)

// Duration wraps time.Duration so YAML values like "30m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is one immutable configuration version. Never mutate a Config that
// has been installed in a Store; build a new one and swap it.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Memory      MemoryConfig      `yaml:"memory"`
	Batch       BatchConfig       `yaml:"batch"`
	Healing     HealingConfig     `yaml:"healing"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Development bool `yaml:"development"`
}

// ScoringConfig is the decision engine's severity table, blend factor, and
// action thresholds. All knobs the narrative left unspecified live here.
type ScoringConfig struct {
	SeverityBenign     float64 `yaml:"severity_benign"`
	SeveritySuspicious float64 `yaml:"severity_suspicious"`
	SeverityCritical   float64 `yaml:"severity_critical"`

	// Alpha blends base score against decayed context:
	// final = alpha*base + (1-alpha)*context.
	Alpha float64 `yaml:"alpha"`

	BlockThreshold   float64 `yaml:"block_threshold"`
	IsolateThreshold float64 `yaml:"isolate_threshold"`

	// BackpressureMargin is added to both thresholds under reduced
	// backpressure.
	BackpressureMargin float64 `yaml:"backpressure_margin"`

	// SafetyFloor: critical evidence at or above this confidence always
	// isolates, even when load is being shed.
	SafetyFloor float64 `yaml:"safety_floor"`
}

// Severity returns the table weight for a threat level. The level must have
// passed validation; the closed set is matched exhaustively.
func (s ScoringConfig) Severity(t model.ThreatLevel) float64 {
	switch t {
	case model.ThreatBenign:
		return s.SeverityBenign
	case model.ThreatSuspicious:
		return s.SeveritySuspicious
	case model.ThreatCritical:
		return s.SeverityCritical
	}
	return 0
}

// ActionSeverity maps a past decision's action onto the severity table, for
// context scoring: monitor weighs as benign, block as suspicious, isolate as
// critical.
func (s ScoringConfig) ActionSeverity(a model.Action) float64 {
	switch a {
	case model.ActionMonitor:
		return s.SeverityBenign
	case model.ActionBlock:
		return s.SeveritySuspicious
	case model.ActionIsolate:
		return s.SeverityCritical
	}
	return 0
}

type MemoryConfig struct {
	HalfLife Duration `yaml:"half_life"`
	Lookback Duration `yaml:"lookback"`
	Capacity int      `yaml:"capacity"`
	// Epsilon is the weight floor below which compaction drops records.
	Epsilon float64 `yaml:"epsilon"`
}

type BatchConfig struct {
	Workers           int      `yaml:"workers"`
	EntityLockTimeout Duration `yaml:"entity_lock_timeout"`
}

// HealingConfig drives the controller's sampling cadence, diagnosis
// thresholds, and the hysteresis counters of the health state machine.
type HealingConfig struct {
	Interval Duration `yaml:"interval"`

	CPUWarnPct  float64 `yaml:"cpu_warn_pct"`
	MemWarnPct  float64 `yaml:"mem_warn_pct"`
	MemCritPct  float64 `yaml:"mem_crit_pct"`
	BacklogWarn int     `yaml:"backlog_warn"`
	BacklogCrit int     `yaml:"backlog_crit"`
	// StoreWarnPct is the fill ratio of the memory store (against capacity)
	// that counts as pressure.
	StoreWarnPct float64 `yaml:"store_warn_pct"`

	// DegradeAfter (K): consecutive ticks with moderate tags before
	// NORMAL -> DEGRADED, and calm ticks before CRITICAL -> DEGRADED.
	DegradeAfter int `yaml:"degrade_after"`
	// CriticalAfter (M): further ticks of persistent moderate tags before
	// DEGRADED -> CRITICAL.
	CriticalAfter int `yaml:"critical_after"`
	// RecoverAfter (J): consecutive clean ticks before returning to NORMAL.
	RecoverAfter int `yaml:"recover_after"`
}

type PersistenceConfig struct {
	// Path to the SQLite database. Empty disables the durable port.
	Path string `yaml:"path"`
}

// Default returns a Config with working defaults. The scoring defaults keep
// the documented behavior: critical evidence at confidence 0.9 on empty
// memory isolates, suspicious at 0.8 only monitors.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8321,
		},
		Scoring: ScoringConfig{
			SeverityBenign:     0.1,
			SeveritySuspicious: 0.5,
			SeverityCritical:   1.0,
			Alpha:              0.7,
			BlockThreshold:     0.45,
			IsolateThreshold:   0.6,
			BackpressureMargin: 0.15,
			SafetyFloor:        0.9,
		},
		Memory: MemoryConfig{
			HalfLife: Duration(time.Hour),
			Lookback: Duration(30 * time.Minute),
			Capacity: 1000,
			Epsilon:  0.01,
		},
		Batch: BatchConfig{
			Workers:           8,
			EntityLockTimeout: Duration(2 * time.Second),
		},
		Healing: HealingConfig{
			Interval:      Duration(60 * time.Second),
			CPUWarnPct:    80,
			MemWarnPct:    80,
			MemCritPct:    90,
			BacklogWarn:   100,
			BacklogCrit:   500,
			StoreWarnPct:  0.9,
			DegradeAfter:  3,
			CriticalAfter: 5,
			RecoverAfter:  4,
		},
	}
}

// Validate rejects configurations that would make scoring or hysteresis
// meaningless.
func (c *Config) Validate() error {
	s := c.Scoring
	if s.Alpha < 0 || s.Alpha > 1 {
		return fmt.Errorf("scoring.alpha %g outside [0,1]", s.Alpha)
	}
	if s.SeverityBenign >= s.SeveritySuspicious || s.SeveritySuspicious >= s.SeverityCritical {
		return fmt.Errorf("severity table must be strictly increasing: %g %g %g",
			s.SeverityBenign, s.SeveritySuspicious, s.SeverityCritical)
	}
	if s.BlockThreshold >= s.IsolateThreshold {
		return fmt.Errorf("block_threshold %g must be below isolate_threshold %g",
			s.BlockThreshold, s.IsolateThreshold)
	}
	if s.SafetyFloor < 0 || s.SafetyFloor > 1 {
		return fmt.Errorf("scoring.safety_floor %g outside [0,1]", s.SafetyFloor)
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity %d must be positive", c.Memory.Capacity)
	}
	if c.Memory.HalfLife <= 0 {
		return fmt.Errorf("memory.half_life must be positive")
	}
	if c.Memory.Epsilon < 0 || c.Memory.Epsilon >= 1 {
		return fmt.Errorf("memory.epsilon %g outside [0,1)", c.Memory.Epsilon)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers %d must be positive", c.Batch.Workers)
	}
	if c.Batch.EntityLockTimeout <= 0 {
		return fmt.Errorf("batch.entity_lock_timeout must be positive")
	}
	h := c.Healing
	if h.Interval <= 0 {
		return fmt.Errorf("healing.interval must be positive")
	}
	if h.DegradeAfter < 1 || h.CriticalAfter < 1 || h.RecoverAfter < 1 {
		return fmt.Errorf("healing hysteresis counters must be >= 1 (K=%d M=%d J=%d)",
			h.DegradeAfter, h.CriticalAfter, h.RecoverAfter)
	}
	return nil
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
