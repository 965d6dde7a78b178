package healing

import (
	"github.com/yaya84/arkab/internal/config"
	"github.com/yaya84/arkab/internal/model"
)

// fsm is the hysteretic health state machine. One instance, owned by the
// controller, stepped once per tick. The streak counters are what make the
// machine hysteretic: no transition fires on a single sample except
// DEGRADED -> CRITICAL on a severe tag.
type fsm struct {
	state model.HealthState

	// taggedStreak counts consecutive NORMAL ticks carrying any tag.
	taggedStreak int
	// persistStreak counts consecutive DEGRADED ticks with moderate tags and
	// no improvement.
	persistStreak int
	// cleanStreak counts consecutive ticks with no tags at all. It survives
	// the CRITICAL -> DEGRADED downgrade so recovery needs exactly
	// RecoverAfter clean ticks total, never fewer.
	cleanStreak int
	// calmStreak counts consecutive CRITICAL ticks without a severe tag.
	calmStreak int
}

func newFSM() fsm {
	return fsm{state: model.HealthNormal}
}

// step advances the machine by one tick. clean means no tags were diagnosed;
// an unknown marker is not clean, but it escalates nothing either.
func (f *fsm) step(hasModerate, hasSevere, clean bool, h config.HealingConfig) model.HealthState {
	if clean {
		f.cleanStreak++
	} else {
		f.cleanStreak = 0
	}

	switch f.state {
	case model.HealthNormal:
		if hasModerate || hasSevere {
			f.taggedStreak++
		} else {
			f.taggedStreak = 0
		}
		if f.taggedStreak >= h.DegradeAfter {
			f.state = model.HealthDegraded
			f.taggedStreak = 0
			f.persistStreak = 0
		}

	case model.HealthDegraded:
		if hasSevere {
			f.state = model.HealthCritical
			f.calmStreak = 0
			f.persistStreak = 0
			break
		}
		if f.cleanStreak >= h.RecoverAfter {
			f.state = model.HealthNormal
			f.persistStreak = 0
			break
		}
		if hasModerate {
			f.persistStreak++
		} else {
			f.persistStreak = 0
		}
		if f.persistStreak > h.CriticalAfter {
			f.state = model.HealthCritical
			f.calmStreak = 0
			f.persistStreak = 0
		}

	case model.HealthCritical:
		if hasSevere {
			f.calmStreak = 0
			break
		}
		f.calmStreak++
		if f.cleanStreak >= h.RecoverAfter {
			f.state = model.HealthNormal
			f.calmStreak = 0
			break
		}
		if f.calmStreak >= h.DegradeAfter {
			f.state = model.HealthDegraded
			f.calmStreak = 0
			f.persistStreak = 0
		}
	}

	return f.state
}
