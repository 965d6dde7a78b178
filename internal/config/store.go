package config

import "sync/atomic"

// Store publishes the current configuration as an atomic snapshot. Readers
// take the pointer once per operation and use that version end to end;
// writers install a complete replacement, never a partial update.
type Store struct {
	p atomic.Pointer[Config]
}

// NewStore returns a Store holding the given initial configuration.
// A nil initial leaves the store empty; Snapshot then returns nil and
// callers fail with ErrConfigUnavailable.
func NewStore(initial *Config) *Store {
	s := &Store{}
	if initial != nil {
		s.p.Store(initial)
	}
	return s
}

// Snapshot returns the current configuration version, or nil if none has
// been installed.
func (s *Store) Snapshot() *Config {
	return s.p.Load()
}

// Swap atomically installs a new configuration version.
func (s *Store) Swap(cfg *Config) {
	s.p.Store(cfg)
}
