// ABOUTME: Per-burst slot statistics
// ABOUTME: Collects matched slot timestamps and fans them out to sinks
package stats

import (
	"errors"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/burst"
)

// SlotStatus describes one slot of a completed round
type SlotStatus struct {
	Slot        int    `json:"slot"`
	RemoteTicks uint64 `json:"rcv_time"`
	LocalTicks  uint64 `json:"local_time"`
	Valid       bool   `json:"valid"`
}

// Burst is the statistics record for one round
type Burst struct {
	Node  string       `json:"node"`
	Round uint8        `json:"round"`
	Time  time.Time    `json:"time"`
	Slots []SlotStatus `json:"slots"`
}

// Valid returns the number of slots seen in both directions
func (b Burst) Valid() int {
	n := 0
	for _, s := range b.Slots {
		if s.Valid {
			n++
		}
	}
	return n
}

// Collect builds the statistics for one archived burst pair. A slot is
// valid when both the local and remote tick are present.
func Collect(node string, round uint8, local, rcv burst.Burst) Burst {
	slots := local.Slots()
	if rcv.Slots() < slots {
		slots = rcv.Slots()
	}

	b := Burst{
		Node:  node,
		Round: round,
		Time:  time.Now(),
		Slots: make([]SlotStatus, slots),
	}
	for i := 0; i < slots; i++ {
		b.Slots[i] = SlotStatus{
			Slot:        i,
			RemoteTicks: rcv.Ticks[i],
			LocalTicks:  local.Ticks[i],
			Valid:       local.Bits.IsSet(i) && rcv.Bits.IsSet(i),
		}
	}
	return b
}

// Sink consumes burst statistics
type Sink interface {
	Write(b Burst) error
	Close() error
}

// Multi fans out to every sink, collecting errors
type Multi []Sink

// Write writes to every sink
func (m Multi) Write(b Burst) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
