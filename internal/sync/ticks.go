// ABOUTME: Raw tick sources and tick/microsecond conversion
// ABOUTME: Provides the monotonic hardware counter plus manual and skewed sources for tests
package sync

import (
	"math"
	"sync/atomic"
	"time"
)

// TickRateHz is the rate of the raw uptime counter (32.768 kHz low-power crystal)
const TickRateHz = 32768

// TickSource returns raw, monotonically increasing uptime ticks
type TickSource interface {
	Ticks() uint64
}

var processStart = time.Now()

// MicrosToTicks converts microseconds to ticks, rounding half up
func MicrosToTicks(us uint64) uint64 {
	q, r := us/1_000_000, us%1_000_000
	return q*TickRateHz + (r*TickRateHz+500_000)/1_000_000
}

// TicksToMicros converts ticks to microseconds, truncating
func TicksToMicros(ticks uint64) uint64 {
	q, r := ticks/TickRateHz, ticks%TickRateHz
	return q*1_000_000 + r*1_000_000/TickRateHz
}

// signedTicksToMicros converts a signed tick delta, truncating toward zero
func signedTicksToMicros(ticks int64) int64 {
	q, r := ticks/TickRateHz, ticks%TickRateHz
	return q*1_000_000 + r*1_000_000/TickRateHz
}

// nanosToTicks converts nanoseconds to ticks without overflowing
func nanosToTicks(ns uint64) uint64 {
	q, r := ns/1_000_000_000, ns%1_000_000_000
	return q*TickRateHz + r*TickRateHz/1_000_000_000
}

// MonotonicTicks reads the raw monotonic clock of the host
type MonotonicTicks struct{}

// Ticks returns the current raw uptime in ticks
func (MonotonicTicks) Ticks() uint64 {
	return nanosToTicks(monotonicNanos())
}

// ManualTicks is a tick source driven explicitly by the caller
type ManualTicks struct {
	now atomic.Uint64
}

// NewManualTicks creates a manual source starting at start
func NewManualTicks(start uint64) *ManualTicks {
	m := &ManualTicks{}
	m.now.Store(start)
	return m
}

// Ticks returns the current value
func (m *ManualTicks) Ticks() uint64 {
	return m.now.Load()
}

// Set jumps to an absolute value
func (m *ManualTicks) Set(v uint64) {
	m.now.Store(v)
}

// Advance moves forward by d ticks and returns the new value
func (m *ManualTicks) Advance(d uint64) uint64 {
	return m.now.Add(d)
}

// SkewedTicks simulates a crystal that runs PPM parts-per-million fast (or
// slow, if negative) relative to Base, starting from Offset
type SkewedTicks struct {
	Base   TickSource
	PPM    float64
	Offset uint64
}

// Ticks returns the skewed tick count
func (s SkewedTicks) Ticks() uint64 {
	base := float64(s.Base.Ticks())
	return s.Offset + uint64(math.Round(base*(1+s.PPM*1e-6)))
}
