// ABOUTME: Fixed-size bit vector helpers
// ABOUTME: Tracks which slots of a burst hold a recorded timestamp
package bitfield

import (
	"fmt"
	"math/bits"
	"strings"
)

// Bitfield is a little-endian bit vector: bit i lives in byte i/8
type Bitfield []byte

// New allocates a bitfield able to hold n bits
func New(n int) Bitfield {
	return make(Bitfield, (n+7)/8)
}

// Set sets bit i
func (b Bitfield) Set(i int) {
	b[i/8] |= 1 << uint(i%8)
}

// IsSet reports whether bit i is set
func (b Bitfield) IsSet(i int) bool {
	return b[i/8]&(1<<uint(i%8)) != 0
}

// Clear resets every bit
func (b Bitfield) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// Count returns the number of set bits
func (b Bitfield) Count() int {
	total := 0
	for _, v := range b {
		total += bits.OnesCount8(v)
	}
	return total
}

// Clone returns an independent copy
func (b Bitfield) Clone() Bitfield {
	c := make(Bitfield, len(b))
	copy(c, b)
	return c
}

// String renders the bitfield as hex, most significant byte first
func (b Bitfield) String() string {
	var sb strings.Builder
	sb.WriteString("0x")
	for i := len(b) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02X", b[i])
	}
	return sb.String()
}

// And returns the byte-wise AND of a and b over the shorter of the two
func And(a, b Bitfield) Bitfield {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	result := make(Bitfield, n)
	for i := 0; i < n; i++ {
		result[i] = a[i] & b[i]
	}
	return result
}
