// ABOUTME: Timestamp sets for one synchronization burst
// ABOUTME: Pairs a slot bitfield with per-slot tick values
package burst

import (
	"github.com/Resonate-Protocol/meshsync-go/internal/bitfield"
)

// Burst holds the ticks observed for each slot of one round, in one direction
type Burst struct {
	Bits  bitfield.Bitfield
	Ticks []uint64

	// Estimates holds this node's logical-clock estimate of the sender's
	// time at reception. Nil unless estimate tracking is enabled.
	Estimates []uint64
}

// New allocates an empty burst for the given slot count
func New(slots int, trackEstimates bool) Burst {
	b := Burst{
		Bits:  bitfield.New(slots),
		Ticks: make([]uint64, slots),
	}
	if trackEstimates {
		b.Estimates = make([]uint64, slots)
	}
	return b
}

// Slots returns the number of slots the burst can hold
func (b *Burst) Slots() int {
	return len(b.Ticks)
}

// Record stores the tick for a slot and marks it present
func (b *Burst) Record(slot int, tick uint64) {
	b.Ticks[slot] = tick
	b.Bits.Set(slot)
}

// Reset clears bitfield, ticks and estimates
func (b *Burst) Reset() {
	b.Bits.Clear()
	for i := range b.Ticks {
		b.Ticks[i] = 0
	}
	for i := range b.Estimates {
		b.Estimates[i] = 0
	}
}

// Clone returns a deep copy
func (b Burst) Clone() Burst {
	c := Burst{
		Bits:  b.Bits.Clone(),
		Ticks: append([]uint64(nil), b.Ticks...),
	}
	if b.Estimates != nil {
		c.Estimates = append([]uint64(nil), b.Estimates...)
	}
	return c
}
