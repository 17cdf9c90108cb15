// ABOUTME: Fixed-depth ring buffer of completed bursts
// ABOUTME: Oldest entries are overwritten once the ring is full
package burst

import "sync"

// History is a ring of completed bursts with explicit head and count
type History struct {
	mu      sync.Mutex
	entries []Burst
	head    int // next write position
	count   int
}

// NewHistory creates a ring holding at most depth bursts
func NewHistory(depth int) *History {
	return &History{
		entries: make([]Burst, depth),
	}
}

// Push stores a copy of b, evicting the oldest entry when full
func (h *History) Push(b Burst) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(b)
}

func (h *History) push(b Burst) {
	h.entries[h.head] = b.Clone()
	h.head = (h.head + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
}

// Entries returns copies of the stored bursts, oldest first
func (h *History) Entries() []Burst {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entriesLocked()
}

func (h *History) entriesLocked() []Burst {
	out := make([]Burst, 0, h.count)
	start := (h.head - h.count + len(h.entries)) % len(h.entries)
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)].Clone())
	}
	return out
}

// Len returns the number of stored bursts
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the ring depth
func (h *History) Cap() int {
	return len(h.entries)
}
