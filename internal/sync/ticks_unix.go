//go:build linux || darwin

// ABOUTME: Monotonic raw clock for linux and darwin
// ABOUTME: Reads CLOCK_MONOTONIC_RAW so NTP slewing never bends the raw counter
package sync

import (
	"time"

	"golang.org/x/sys/unix"
)

func monotonicNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return uint64(time.Since(processStart))
	}
	return uint64(ts.Nano())
}
