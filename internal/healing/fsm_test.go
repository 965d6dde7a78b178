package healing

import (
	"testing"

	"github.com/yaya84/arkab/internal/config"
	"github.com/yaya84/arkab/internal/model"
)

// knobs: K=3 ticks to degrade, M=5 persistence to critical, J=4 to recover.
func testKnobs() config.HealingConfig {
	h := config.Default().Healing
	h.DegradeAfter = 3
	h.CriticalAfter = 5
	h.RecoverAfter = 4
	return h
}

func TestDegradeRequiresConsecutiveTaggedTicks(t *testing.T) {
	f := newFSM()
	h := testKnobs()

	for i := 0; i < 2; i++ {
		if got := f.step(true, false, false, h); got != model.HealthNormal {
			t.Fatalf("tick %d: state = %s, want NORMAL", i, got)
		}
	}
	if got := f.step(true, false, false, h); got != model.HealthDegraded {
		t.Fatalf("after K ticks: state = %s, want DEGRADED", got)
	}
}

func TestInterruptedStreakDoesNotDegrade(t *testing.T) {
	f := newFSM()
	h := testKnobs()

	// Alternating pressure and clean ticks must never leave NORMAL.
	for i := 0; i < 20; i++ {
		tagged := i%2 == 0
		if got := f.step(tagged, false, !tagged, h); got != model.HealthNormal {
			t.Fatalf("tick %d: flapped to %s", i, got)
		}
	}
}

func TestSevereEscalatesDegradedImmediately(t *testing.T) {
	f := newFSM()
	f.state = model.HealthDegraded
	h := testKnobs()

	if got := f.step(false, true, false, h); got != model.HealthCritical {
		t.Fatalf("state = %s, want CRITICAL on severe tag", got)
	}
}

func TestModeratePersistenceEscalates(t *testing.T) {
	f := newFSM()
	f.state = model.HealthDegraded
	h := testKnobs()

	for i := 0; i < h.CriticalAfter; i++ {
		if got := f.step(true, false, false, h); got != model.HealthDegraded {
			t.Fatalf("tick %d: state = %s, want DEGRADED", i, got)
		}
	}
	// Beyond M further ticks without improvement.
	if got := f.step(true, false, false, h); got != model.HealthCritical {
		t.Fatalf("state = %s, want CRITICAL after persistent pressure", got)
	}
}

func TestRecoveryRequiresCleanStreak(t *testing.T) {
	f := newFSM()
	f.state = model.HealthDegraded
	h := testKnobs()

	for i := 0; i < h.RecoverAfter-1; i++ {
		if got := f.step(false, false, true, h); got != model.HealthDegraded {
			t.Fatalf("tick %d: recovered early to %s", i, got)
		}
	}
	if got := f.step(false, false, true, h); got != model.HealthNormal {
		t.Fatalf("state = %s, want NORMAL after J clean ticks", got)
	}
}

func TestRecoveryStreakResetsOnTag(t *testing.T) {
	f := newFSM()
	f.state = model.HealthDegraded
	h := testKnobs()

	f.step(false, false, true, h)
	f.step(false, false, true, h)
	f.step(true, false, false, h) // pressure returns, streak resets
	for i := 0; i < h.RecoverAfter-1; i++ {
		if got := f.step(false, false, true, h); got != model.HealthDegraded {
			t.Fatalf("tick %d after reset: state = %s, want DEGRADED", i, got)
		}
	}
}

func TestCriticalCalmsToDegraded(t *testing.T) {
	f := newFSM()
	f.state = model.HealthCritical
	h := testKnobs()

	// Moderate-but-not-severe ticks: below severe for K ticks downgrades.
	for i := 0; i < h.DegradeAfter-1; i++ {
		if got := f.step(true, false, false, h); got != model.HealthCritical {
			t.Fatalf("tick %d: state = %s, want CRITICAL", i, got)
		}
	}
	if got := f.step(true, false, false, h); got != model.HealthDegraded {
		t.Fatalf("state = %s, want DEGRADED after K calm ticks", got)
	}
}

func TestCriticalFullRecovery(t *testing.T) {
	f := newFSM()
	f.state = model.HealthCritical
	h := testKnobs()

	// J=4 clean ticks: calm streak downgrades to DEGRADED at K=3, the clean
	// streak carries over, and the 4th clean tick completes recovery.
	states := make([]model.HealthState, 0, h.RecoverAfter)
	for i := 0; i < h.RecoverAfter; i++ {
		states = append(states, f.step(false, false, true, h))
	}
	if states[len(states)-1] != model.HealthNormal {
		t.Fatalf("states = %v, want NORMAL at tick J", states)
	}
	for i := 0; i < h.RecoverAfter-1; i++ {
		if states[i] == model.HealthNormal {
			t.Fatalf("recovered to NORMAL at tick %d, before J clean ticks", i+1)
		}
	}
}

func TestUnknownMarkerBlocksRecoveryWithoutEscalating(t *testing.T) {
	f := newFSM()
	f.state = model.HealthDegraded
	h := testKnobs()

	// unknown is a tag (not clean) but neither moderate nor severe.
	for i := 0; i < 20; i++ {
		if got := f.step(false, false, false, h); got != model.HealthDegraded {
			t.Fatalf("tick %d: state = %s, want DEGRADED held", i, got)
		}
	}
}
