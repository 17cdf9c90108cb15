//go:build !linux && !darwin

// ABOUTME: Monotonic clock fallback for platforms without CLOCK_MONOTONIC_RAW
// ABOUTME: Uses the Go runtime monotonic reading since process start
package sync

import "time"

func monotonicNanos() uint64 {
	return uint64(time.Since(processStart))
}
