// ABOUTME: Tests for tick sources and conversions
// ABOUTME: Tests rounding, large values and skewed sources
package sync

import (
	"testing"
)

func TestMicrosToTicks(t *testing.T) {
	tests := []struct {
		us    uint64
		ticks uint64
	}{
		{0, 0},
		{1_000_000, TickRateHz},
		{15, 0}, // 0.49 ticks
		{16, 1}, // 0.52 ticks
		{500_000, TickRateHz / 2},
	}

	for _, tt := range tests {
		if got := MicrosToTicks(tt.us); got != tt.ticks {
			t.Errorf("MicrosToTicks(%d): expected %d, got %d", tt.us, tt.ticks, got)
		}
	}
}

func TestTicksToMicros(t *testing.T) {
	if got := TicksToMicros(TickRateHz); got != 1_000_000 {
		t.Errorf("expected 1000000, got %d", got)
	}
	if got := TicksToMicros(1); got != 30 {
		t.Errorf("expected 30 (truncated), got %d", got)
	}
}

func TestConversionsDoNotOverflow(t *testing.T) {
	// Year ~2100 in microseconds
	us := uint64(4_100_000_000_000_000)
	ticks := MicrosToTicks(us)
	back := TicksToMicros(ticks)
	if diff := int64(back - us); diff < -31 || diff > 31 {
		t.Errorf("round trip drifted by %dµs", diff)
	}
}

func TestSignedTicksToMicros(t *testing.T) {
	if got := signedTicksToMicros(-TickRateHz); got != -1_000_000 {
		t.Errorf("expected -1000000, got %d", got)
	}
}

func TestManualTicks(t *testing.T) {
	m := NewManualTicks(10)
	if m.Advance(5) != 15 || m.Ticks() != 15 {
		t.Errorf("expected 15, got %d", m.Ticks())
	}
	m.Set(3)
	if m.Ticks() != 3 {
		t.Errorf("expected 3, got %d", m.Ticks())
	}
}

func TestSkewedTicks(t *testing.T) {
	base := NewManualTicks(1_000_000)
	fast := SkewedTicks{Base: base, PPM: 100, Offset: 7}

	// 1e6 * (1 + 100e-6) + 7
	if got := fast.Ticks(); got != 1_000_107 {
		t.Errorf("expected 1000107, got %d", got)
	}
}

func TestMonotonicTicksAdvance(t *testing.T) {
	var src MonotonicTicks
	a := src.Ticks()
	b := src.Ticks()
	if b < a {
		t.Errorf("monotonic ticks went backwards: %d -> %d", a, b)
	}
}
