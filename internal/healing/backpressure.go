package healing

import (
	"sync/atomic"
	"time"

	"github.com/yaya84/arkab/internal/model"
)

// Backpressure is the single shared cell carrying the current backpressure
// signal. Written only by the healing controller, read lock-free by the
// decision engine; updates are whole-snapshot swaps, never partial writes.
type Backpressure struct {
	p atomic.Pointer[model.BackpressureSignal]
}

// NewBackpressure returns a cell reporting level none.
func NewBackpressure() *Backpressure {
	return &Backpressure{}
}

// Load returns the current signal. Before the controller's first write the
// level is none.
func (b *Backpressure) Load() model.BackpressureSignal {
	if sig := b.p.Load(); sig != nil {
		return *sig
	}
	return model.BackpressureSignal{Level: model.BackpressureNone}
}

// Set installs a new signal. Only the healing controller writes here.
func (b *Backpressure) Set(level model.BackpressureLevel, at time.Time) {
	b.p.Store(&model.BackpressureSignal{Level: level, UpdatedAt: at})
}
