// ABOUTME: Logical clock with drift and offset correction
// ABOUTME: Maps raw uptime ticks onto the mesh reference clock and Unix time
package sync

import (
	"math"
	"sync"
	"time"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// LogicalClock converts raw ticks to logical (reference) ticks
type LogicalClock struct {
	source TickSource

	mu             sync.RWMutex
	uptimeRef      uint64 // Raw tick the correction is relative to
	epochRefTicks  uint64 // Epoch anchor, in ticks since the Unix epoch
	epochRefMicros uint64 // Same anchor in microseconds
	epochValid     bool
	slope          float64 // Drift correction
	offset         float64 // Offset correction in ticks

	quality   Quality
	lastSync  time.Time
	syncCount int
}

// NewLogicalClock creates an uncorrected clock over the given tick source
func NewLogicalClock(source TickSource) *LogicalClock {
	return &LogicalClock{
		source:  source,
		slope:   1.0,
		quality: QualityLost,
	}
}

// RawTicks returns the current raw uptime ticks
func (c *LogicalClock) RawTicks() uint64 {
	return c.source.Ticks()
}

// ToLogical converts a raw tick value to logical ticks
func (c *LogicalClock) ToLogical(raw uint64) uint64 {
	c.mu.RLock()
	delta := int64(raw - c.uptimeRef)
	slope, offset := c.slope, c.offset
	epochValid, epochTicks := c.epochValid, c.epochRefTicks
	c.mu.RUnlock()

	corrected := float64(delta)*slope + offset
	if epochValid {
		corrected += float64(epochTicks)
	}

	if corrected <= 0 {
		return 0
	}
	return uint64(math.Round(corrected))
}

// LogicalTicks returns the current logical time in ticks
func (c *LogicalClock) LogicalTicks() uint64 {
	return c.ToLogical(c.source.Ticks())
}

// LogicalMicros returns the current logical time in microseconds
func (c *LogicalClock) LogicalMicros() uint64 {
	return TicksToMicros(c.LogicalTicks())
}

// ApplyCorrection replaces slope and offset atomically
func (c *LogicalClock) ApplyCorrection(slope, offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slope = slope
	c.offset = offset
}

// Correction returns the current slope and offset
func (c *LogicalClock) Correction() (slope, offset float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slope, c.offset
}

// AnchorEpoch ties the current raw tick to an absolute Unix time
func (c *LogicalClock) AnchorEpoch(epochMicros uint64) {
	epochTicks := MicrosToTicks(epochMicros)
	now := c.source.Ticks()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.uptimeRef = now
	c.epochRefTicks = epochTicks
	c.epochRefMicros = epochMicros
	c.epochValid = true
}

// EpochValid reports whether this node anchored an epoch itself
func (c *LogicalClock) EpochValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochValid
}

// LogicalToUnixMicros converts logical ticks to Unix microseconds.
// Clients never anchor an epoch themselves; their logical ticks already
// count from the Unix epoch once the authority anchored one upstream.
func (c *LogicalClock) LogicalToUnixMicros(logical uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	delta := int64(logical - c.epochRefTicks)
	return uint64(int64(c.epochRefMicros) + signedTicksToMicros(delta))
}

// CurrentUnixMicros returns this node's best estimate of Unix time
func (c *LogicalClock) CurrentUnixMicros() uint64 {
	return c.LogicalToUnixMicros(c.LogicalTicks())
}

// Decompress rebuilds a 32-bit truncated microsecond timestamp against
// the current logical time
func (c *LogicalClock) Decompress(compressed uint32) uint64 {
	return DecompressAt(c.LogicalMicros(), compressed)
}

// Compress truncates a timestamp to its low 32 bits
func Compress(us uint64) uint32 {
	return uint32(us)
}

// DecompressAt splices compressed into the high bits of now. A result
// ahead of now means the low word wrapped since compression.
func DecompressAt(now uint64, compressed uint32) uint64 {
	full := (now &^ 0xFFFFFFFF) | uint64(compressed)
	if full > now {
		full -= 1 << 32
	}
	return full
}

// MarkSynced records a successful correction
func (c *LogicalClock) MarkSynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quality = QualityGood
	c.lastSync = time.Now()
	c.syncCount++
}

// MarkFailed records a failed round
func (c *LogicalClock) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quality == QualityGood {
		c.quality = QualityDegraded
	}
}

// SyncCount returns the number of successful corrections
func (c *LogicalClock) SyncCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncCount
}

// CheckQuality updates quality based on time since last sync
func (c *LogicalClock) CheckQuality(maxAge time.Duration) Quality {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.syncCount == 0 || time.Since(c.lastSync) > maxAge {
		c.quality = QualityLost
	}

	return c.quality
}
