// Package decay is the pure decay clock: it maps an elapsed interval and a
// half-life to a weight in (0,1]. No state, no side effects: two reads at
// the same instant for the same record always agree.
package decay

import (
	"math"
	"time"
)

// Weight returns exp(-λ·Δt) with λ = ln(2)/halfLife and Δt = now−recordedAt.
// A record exactly one half-life old weighs 0.5. Δt ≤ 0 yields 1.0, and a
// non-positive half-life disables decay entirely. The result is monotonically
// non-increasing in Δt and never negative.
func Weight(recordedAt, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1.0
	}
	dt := now.Sub(recordedAt)
	if dt <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * float64(dt) / float64(halfLife))
}
