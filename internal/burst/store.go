// ABOUTME: Live burst timestamps plus their archived history
// ABOUTME: Feeds matched local/remote tick pairs to the drift estimator
package burst

import "sync"

// Store keeps the live local and remote bursts of the current round and the
// parallel history rings of completed rounds. The i-th local and i-th remote
// history entries always describe the same round.
//
// Lock order: archiveMu, then localMu, localHist, then rcvMu, rcvHist.
type Store struct {
	slots int

	archiveMu sync.Mutex

	localMu sync.Mutex
	local   Burst

	rcvMu sync.Mutex
	rcv   Burst

	localHist *History
	rcvHist   *History
}

// NewStore creates a store for bursts of the given slot count and history depth
func NewStore(slots, depth int, trackEstimates bool) *Store {
	return &Store{
		slots:     slots,
		local:     New(slots, trackEstimates),
		rcv:       New(slots, false),
		localHist: NewHistory(depth),
		rcvHist:   NewHistory(depth),
	}
}

// Slots returns the number of slots per burst
func (s *Store) Slots() int {
	return s.slots
}

// Reset clears both live bursts. History is untouched.
func (s *Store) Reset() {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	s.localMu.Lock()
	s.local.Reset()
	s.localMu.Unlock()

	s.rcvMu.Lock()
	s.rcv.Reset()
	s.rcvMu.Unlock()
}

// RecordLocal stores the tick at which this node observed a slot
func (s *Store) RecordLocal(slot int, tick uint64) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	s.local.Record(slot, tick)
}

// RecordLocalEstimate stores a local observation together with the
// logical-clock estimate taken at the same instant
func (s *Store) RecordLocalEstimate(slot int, tick, estimate uint64) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	s.local.Record(slot, tick)
	if s.local.Estimates != nil {
		s.local.Estimates[slot] = estimate
	}
}

// RecordRemote stores the tick the sender claims for a slot
func (s *Store) RecordRemote(slot int, tick uint64) {
	s.rcvMu.Lock()
	defer s.rcvMu.Unlock()
	s.rcv.Record(slot, tick)
}

// LocalTick returns the local tick recorded for a slot, if any
func (s *Store) LocalTick(slot int) (uint64, bool) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	if slot < 0 || slot >= s.slots || !s.local.Bits.IsSet(slot) {
		return 0, false
	}
	return s.local.Ticks[slot], true
}

// Live returns copies of the current local and remote bursts
func (s *Store) Live() (local, rcv Burst) {
	s.localMu.Lock()
	local = s.local.Clone()
	s.localMu.Unlock()

	s.rcvMu.Lock()
	rcv = s.rcv.Clone()
	s.rcvMu.Unlock()
	return local, rcv
}

// Archive copies both live bursts into their history rings at the same index
func (s *Store) Archive() {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	s.localMu.Lock()
	s.localHist.Push(s.local)
	s.localMu.Unlock()

	s.rcvMu.Lock()
	s.rcvHist.Push(s.rcv)
	s.rcvMu.Unlock()
}

// History returns parallel copies of both rings, oldest first
func (s *Store) History() (local, rcv []Burst) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	return s.localHist.Entries(), s.rcvHist.Entries()
}

// HistoryLen returns the number of archived rounds
func (s *Store) HistoryLen() int {
	return s.localHist.Len()
}
