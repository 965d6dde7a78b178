package model

import (
	"errors"
	"fmt"
)

// ValidationError marks malformed evidence. Rejected per item, never fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid evidence: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrEntityLockTimeout is returned when per-entity serialization could not be
// acquired within the configured wait. The caller may retry the item.
var ErrEntityLockTimeout = errors.New("entity lock wait timed out")

// ErrConfigUnavailable is returned when no configuration snapshot is
// installed at call time. Fatal for that call only.
var ErrConfigUnavailable = errors.New("configuration snapshot unavailable")

// ErrStoreInvariant marks the memory store still over capacity after
// eviction. A defect, logged and alarmed, never surfaced to callers.
var ErrStoreInvariant = errors.New("memory store over capacity after eviction")
