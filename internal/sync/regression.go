// ABOUTME: Least-squares drift estimator over archived bursts
// ABOUTME: Fits remote ticks as a linear function of local ticks
package sync

import (
	"errors"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/meshsync-go/internal/bitfield"
	"github.com/Resonate-Protocol/meshsync-go/internal/burst"
)

// Regression failures. None of them is fatal: the round is abandoned and
// the clock keeps its previous correction.
var (
	ErrNoValidData        = errors.New("no valid data in history for regression")
	ErrInsufficientData   = errors.New("not enough valid samples in history")
	ErrDegenerateVariance = errors.New("variance too small for a stable fit")
)

// minVariance guards the slope division
const minVariance = 1e-12

// Fit is the result of a regression
type Fit struct {
	Slope   float64
	Offset  float64
	Samples int
}

// FitHistory runs ordinary least squares of remote ticks (y) against local
// ticks (x) over every slot present in both bursts of each archived pair.
// local and rcv must be parallel: local[i] and rcv[i] describe the same round.
func FitHistory(local, rcv []burst.Burst, minSamples int) (Fit, error) {
	pairs := len(local)
	if len(rcv) < pairs {
		pairs = len(rcv)
	}

	// Samples are centred on the first matched pair before summing; raw
	// ticks since the Unix epoch are large enough to lose precision when squared.
	var x0, y0 uint64
	var sumX, sumY float64
	n := 0

	forEachMatched(local[:pairs], rcv[:pairs], func(x, y uint64) {
		if n == 0 {
			x0, y0 = x, y
		}
		sumX += float64(int64(x - x0))
		sumY += float64(int64(y - y0))
		n++
	})

	if n == 0 {
		return Fit{}, ErrNoValidData
	}
	if n < minSamples {
		return Fit{}, fmt.Errorf("%w (min = %d, got = %d)", ErrInsufficientData, minSamples, n)
	}

	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sumCov, sumVar float64
	forEachMatched(local[:pairs], rcv[:pairs], func(x, y uint64) {
		dx := float64(int64(x-x0)) - meanX
		dy := float64(int64(y-y0)) - meanY
		sumCov += dx * dy
		sumVar += dx * dx
	})

	if math.Abs(sumVar) < minVariance {
		return Fit{}, fmt.Errorf("%w (%e)", ErrDegenerateVariance, sumVar)
	}

	slope := sumCov / sumVar
	offset := float64(y0) + meanY - slope*(float64(x0)+meanX)

	return Fit{Slope: slope, Offset: offset, Samples: n}, nil
}

// MatchedSamples counts slots present in both bursts of every pair
func MatchedSamples(local, rcv []burst.Burst) int {
	n := 0
	forEachMatched(local, rcv, func(uint64, uint64) { n++ })
	return n
}

func forEachMatched(local, rcv []burst.Burst, fn func(x, y uint64)) {
	for i := range local {
		if i >= len(rcv) {
			return
		}
		l, r := local[i], rcv[i]
		both := bitfield.And(l.Bits, r.Bits)
		slots := len(l.Ticks)
		if len(r.Ticks) < slots {
			slots = len(r.Ticks)
		}
		for slot := 0; slot < slots && slot/8 < len(both); slot++ {
			if both.IsSet(slot) {
				fn(l.Ticks[slot], r.Ticks[slot])
			}
		}
	}
}
