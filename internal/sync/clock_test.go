// ABOUTME: Tests for the logical clock
// ABOUTME: Tests correction, epoch anchoring, Unix conversion and decompression
package sync

import (
	"sync"
	"testing"
	"time"
)

func TestUncorrectedClockIsIdentity(t *testing.T) {
	ticks := NewManualTicks(12345)
	c := NewLogicalClock(ticks)

	if got := c.LogicalTicks(); got != 12345 {
		t.Errorf("expected 12345, got %d", got)
	}

	slope, offset := c.Correction()
	if slope != 1.0 || offset != 0 {
		t.Errorf("expected identity correction, got slope=%v offset=%v", slope, offset)
	}
}

func TestApplyCorrection(t *testing.T) {
	ticks := NewManualTicks(1000)
	c := NewLogicalClock(ticks)

	c.ApplyCorrection(1.5, 200)

	// 1000 * 1.5 + 200
	if got := c.LogicalTicks(); got != 1700 {
		t.Errorf("expected 1700, got %d", got)
	}
	if got := c.ToLogical(3); got != 205 {
		// 4.5 + 200 rounds to 205
		t.Errorf("expected 205, got %d", got)
	}
}

func TestToLogicalRounds(t *testing.T) {
	c := NewLogicalClock(NewManualTicks(0))
	c.ApplyCorrection(1.0, 0.4)
	if got := c.ToLogical(10); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	c.ApplyCorrection(1.0, 0.6)
	if got := c.ToLogical(10); got != 11 {
		t.Errorf("expected 11, got %d", got)
	}
}

func TestToLogicalClampsNegative(t *testing.T) {
	c := NewLogicalClock(NewManualTicks(0))
	c.ApplyCorrection(1.0, -500)
	if got := c.ToLogical(100); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
}

func TestAnchorEpoch(t *testing.T) {
	ticks := NewManualTicks(50000)
	c := NewLogicalClock(ticks)

	epoch := uint64(1_700_000_000_000_000) // Unix µs
	c.AnchorEpoch(epoch)

	if !c.EpochValid() {
		t.Fatal("expected epoch to be valid after anchoring")
	}

	// At the anchor instant the logical clock equals the epoch in ticks
	if got := c.LogicalTicks(); got != MicrosToTicks(epoch) {
		t.Errorf("expected %d, got %d", MicrosToTicks(epoch), got)
	}

	// One second of raw ticks later, Unix time advanced by one second
	ticks.Advance(TickRateHz)
	got := c.CurrentUnixMicros()
	want := epoch + 1_000_000
	if diff := int64(got - want); diff < -100 || diff > 100 {
		t.Errorf("expected unix time ~%d, got %d (diff %dµs)", want, got, diff)
	}
}

func TestClientInheritsEpoch(t *testing.T) {
	// A client that never anchored treats logical ticks as ticks since the epoch
	c := NewLogicalClock(NewManualTicks(0))
	epoch := uint64(1_700_000_000_000_000)
	logical := MicrosToTicks(epoch)

	got := c.LogicalToUnixMicros(logical)
	if diff := int64(got - epoch); diff < -31 || diff > 31 {
		t.Errorf("expected ~%d, got %d", epoch, got)
	}
}

func TestDecompressAtWraparound(t *testing.T) {
	now := uint64(0x1_0000_0005)
	compressed := uint32(0xFFFF_FFFE)

	got := DecompressAt(now, compressed)
	if got != 0xFFFF_FFFE {
		t.Errorf("expected 0xFFFFFFFE, got %#x", got)
	}
	if got >= now {
		t.Errorf("expected result before now, got %#x", got)
	}
	if now-got > 1<<32 {
		t.Errorf("result %#x is more than 2^32 before now", got)
	}
}

func TestDecompressAtNoWrap(t *testing.T) {
	now := uint64(0x7_0000_1000)
	if got := DecompressAt(now, 0x0000_0800); got != 0x7_0000_0800 {
		t.Errorf("expected 0x700000800, got %#x", got)
	}
	if got := DecompressAt(now, Compress(now)); got != now {
		t.Errorf("expected round trip to now, got %#x", got)
	}
}

func TestDecompressUsesLogicalTime(t *testing.T) {
	ticks := NewManualTicks(MicrosToTicks(0x3_0000_0000))
	c := NewLogicalClock(ticks)

	stamp := c.LogicalMicros() - 5000
	got := c.Decompress(Compress(stamp))
	if got != stamp {
		t.Errorf("expected %d, got %d", stamp, got)
	}
}

func TestQualityTracking(t *testing.T) {
	c := NewLogicalClock(NewManualTicks(0))

	if q := c.CheckQuality(time.Minute); q != QualityLost {
		t.Errorf("expected QualityLost before any sync, got %v", q)
	}

	c.MarkSynced()
	if q := c.CheckQuality(time.Minute); q != QualityGood {
		t.Errorf("expected QualityGood after sync, got %v", q)
	}

	c.MarkFailed()
	if q := c.CheckQuality(time.Minute); q != QualityDegraded {
		t.Errorf("expected QualityDegraded after failure, got %v", q)
	}

	c.mu.Lock()
	c.lastSync = time.Now().Add(-2 * time.Minute)
	c.mu.Unlock()

	if q := c.CheckQuality(time.Minute); q != QualityLost {
		t.Errorf("expected QualityLost after max age, got %v", q)
	}
	if c.SyncCount() != 1 {
		t.Errorf("expected sync count 1, got %d", c.SyncCount())
	}
}

func TestConcurrentAccess(t *testing.T) {
	ticks := NewManualTicks(0)
	c := NewLogicalClock(ticks)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ticks.Advance(1)
				c.LogicalTicks()
				c.CurrentUnixMicros()
				c.ApplyCorrection(1.0+float64(i)*1e-6, float64(j))
				c.CheckQuality(time.Second)
			}
		}(i)
	}
	wg.Wait()

	slope, _ := c.Correction()
	if slope < 1.0 || slope > 1.0+10e-6 {
		t.Errorf("unexpected slope after concurrent access: %v", slope)
	}
}
