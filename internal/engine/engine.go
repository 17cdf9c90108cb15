// ABOUTME: Mesh clock sync engine
// ABOUTME: Runs the round state machine on one worker over a broadcast radio
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/burst"
	"github.com/Resonate-Protocol/meshsync-go/internal/radio"
	"github.com/Resonate-Protocol/meshsync-go/internal/statemachine"
	"github.com/Resonate-Protocol/meshsync-go/internal/stats"
	clocksync "github.com/Resonate-Protocol/meshsync-go/internal/sync"
	"github.com/Resonate-Protocol/meshsync-go/pkg/protocol"
)

// RxQueueSize bounds receptions waiting for the worker
const RxQueueSize = 17

// initialRoundID makes the authority's first round id 0
const initialRoundID = 0xFF

var ErrInvalidRole = errors.New("invalid role")

// Config holds engine configuration
type Config struct {
	Name           string
	Slots          int // Timestamped slots per burst; S+1 adverts go out per round
	HistoryDepth   int
	SlotInterval   time.Duration
	ManufacturerID uint16
	TrackEstimates bool
	QualityMaxAge  time.Duration
	Debug          bool
}

// Update reports the outcome of one round's regression
type Update struct {
	RoundID uint8
	Fit     clocksync.Fit
	Err     error
}

// Status is a point-in-time snapshot of the engine
type Status struct {
	Name           string
	Role           statemachine.Role
	State          statemachine.State
	CurrentRoundID uint8
	NewRoundID     uint8
	Slope          float64
	Offset         float64
	Quality        clocksync.Quality
	EpochValid     bool
	SyncCount      int
	LogicalTicks   uint64
	UnixMicros     uint64
	RxDropped      uint64
}

type reception struct {
	msg      protocol.Message
	local    uint64
	estimate uint64
}

// Engine owns the clock, burst store and state machine of one node
type Engine struct {
	config  Config
	clock   *clocksync.LogicalClock
	store   *burst.Store
	machine *statemachine.Machine
	radio   radio.Transport

	// OnUpdate and Stats must be set before Run
	OnUpdate func(Update)
	Stats    stats.Sink

	mu             sync.Mutex
	currentRoundID uint8
	newRoundID     uint8
	deadline       *time.Timer
	scanning       bool

	roleSet   chan struct{}
	roleOnce  sync.Once
	startSync chan struct{}
	endSync   chan struct{}
	rx        chan reception
	rxDropped atomic.Uint64

	ctx context.Context
}

// New creates an engine. The clock must not be shared with another engine.
func New(config Config, clock *clocksync.LogicalClock, transport radio.Transport) (*Engine, error) {
	if config.Slots < 2 || config.Slots > 254 {
		return nil, fmt.Errorf("slots per burst must be in [2, 254], got %d", config.Slots)
	}
	if config.HistoryDepth < 1 {
		return nil, fmt.Errorf("history depth must be positive, got %d", config.HistoryDepth)
	}
	if config.SlotInterval <= 0 {
		return nil, fmt.Errorf("slot interval must be positive, got %v", config.SlotInterval)
	}
	if config.QualityMaxAge <= 0 {
		config.QualityMaxAge = 5 * time.Minute
	}

	e := &Engine{
		config:         config,
		clock:          clock,
		store:          burst.NewStore(config.Slots, config.HistoryDepth, config.TrackEstimates),
		radio:          transport,
		currentRoundID: initialRoundID,
		newRoundID:     initialRoundID,
		roleSet:        make(chan struct{}),
		startSync:      make(chan struct{}, 1),
		endSync:        make(chan struct{}, 1),
		rx:             make(chan reception, RxQueueSize),
		ctx:            context.Background(),
	}

	e.machine = statemachine.New(map[statemachine.State]statemachine.Handler{
		statemachine.StateWaitForSync: e.enterWaitForSync,
		statemachine.StateUpdating:    e.enterUpdating,
		statemachine.StateAdvertising: e.enterAdvertising,
		statemachine.StateStopped:     e.enterStopped,
	})
	e.machine.OnTransition = func(from, to statemachine.State, event statemachine.Event) {
		if e.config.Debug {
			log.Printf("[%s] %s -> %s on %s", e.config.Name, from, to, event)
		}
	}

	return e, nil
}

// Clock returns the engine's logical clock
func (e *Engine) Clock() *clocksync.LogicalClock {
	return e.clock
}

// Store returns the engine's burst store
func (e *Engine) Store() *burst.Store {
	return e.store
}

// SetRole assigns the node's role. The worker does not leave Idle until a
// role is set.
func (e *Engine) SetRole(role statemachine.Role) error {
	if role != statemachine.RoleAuthority && role != statemachine.RoleClient {
		log.Printf("[%s] Rejecting role %s", e.config.Name, role)
		return ErrInvalidRole
	}

	e.machine.SetRole(role)
	e.roleOnce.Do(func() { close(e.roleSet) })
	log.Printf("[%s] Role set to %s", e.config.Name, role)
	return nil
}

// StartNetworkSync starts a new round. Only the authority can do this.
func (e *Engine) StartNetworkSync() {
	if e.machine.Role() != statemachine.RoleAuthority {
		log.Printf("[%s] Ignoring network sync request: not the authority", e.config.Name)
		return
	}

	e.mu.Lock()
	e.currentRoundID++
	round := e.currentRoundID
	e.mu.Unlock()

	log.Printf("[%s] Network sync requested, round %d", e.config.Name, round)
	signal(e.startSync)
}

// StartNetworkSyncWithEpoch anchors the clock to epochMicros and starts a round
func (e *Engine) StartNetworkSyncWithEpoch(epochMicros uint64) {
	if e.machine.Role() != statemachine.RoleAuthority {
		log.Printf("[%s] Ignoring epoch sync request: not the authority", e.config.Name)
		return
	}

	e.clock.AnchorEpoch(epochMicros)
	log.Printf("[%s] Epoch anchored at %d µs", e.config.Name, epochMicros)
	e.StartNetworkSync()
}

// RestoreCorrection installs a previously saved correction. Quality stays
// unchanged until a round succeeds.
func (e *Engine) RestoreCorrection(slope, offset float64) {
	e.clock.ApplyCorrection(slope, offset)
	log.Printf("[%s] Restored correction slope=%.9f offset=%.1f", e.config.Name, slope, offset)
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mu.Lock()
	current, next := e.currentRoundID, e.newRoundID
	e.mu.Unlock()

	role := e.machine.Role()
	slope, offset := e.clock.Correction()

	quality := e.clock.CheckQuality(e.config.QualityMaxAge)
	if role == statemachine.RoleAuthority {
		quality = clocksync.QualityGood
	}

	return Status{
		Name:           e.config.Name,
		Role:           role,
		State:          e.machine.State(),
		CurrentRoundID: current,
		NewRoundID:     next,
		Slope:          slope,
		Offset:         offset,
		Quality:        quality,
		EpochValid:     e.clock.EpochValid(),
		SyncCount:      e.clock.SyncCount(),
		LogicalTicks:   e.clock.LogicalTicks(),
		UnixMicros:     e.clock.CurrentUnixMicros(),
		RxDropped:      e.rxDropped.Load(),
	}
}

// Run is the worker loop. It blocks until a role is set, then processes
// events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	select {
	case <-e.roleSet:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	defer e.shutdown()

	e.machine.Run(statemachine.EventInit)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-e.rx:
			e.handleReception(r)

		case <-e.startSync:
			e.machine.Run(statemachine.EventNewNetworkSyncRequested)

		case <-e.endSync:
			// Receptions that arrived before the deadline belong to the round
			e.drainReceptions()
			e.machine.Run(statemachine.EventSyncWindowExpired)
		}
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.deadline != nil {
		e.deadline.Stop()
	}
	e.mu.Unlock()
	e.stopScan()
}

func (e *Engine) drainReceptions() {
	for {
		select {
		case r := <-e.rx:
			e.handleReception(r)
		default:
			return
		}
	}
}

// onScan runs on the transport's goroutine
func (e *Engine) onScan(payload []byte, rssi int8) {
	local := e.clock.RawTicks()

	msg, err := protocol.DecodeAdvertisement(e.config.ManufacturerID, payload)
	if err != nil {
		if e.config.Debug || !errors.Is(err, protocol.ErrWrongManufacturer) {
			log.Printf("[%s] Dropping advert: %v", e.config.Name, err)
		}
		return
	}

	r := reception{msg: msg, local: local}
	if e.config.TrackEstimates {
		r.estimate = e.clock.ToLogical(local)
	}

	select {
	case e.rx <- r:
	default:
		e.rxDropped.Add(1)
		log.Printf("[%s] Reception queue full, dropping %v", e.config.Name, msg)
	}
}

func (e *Engine) handleReception(r reception) {
	msg := r.msg
	slot := int(msg.Slot)

	if slot > e.config.Slots {
		log.Printf("[%s] Slot index too large: %d (max %d)", e.config.Name, slot, e.config.Slots)
		return
	}

	if e.machine.State() == statemachine.StateWaitForSync {
		e.mu.Lock()
		if msg.RoundID == e.currentRoundID {
			e.mu.Unlock()
			return
		}
		e.newRoundID = msg.RoundID
		remaining := e.config.Slots + 1 - slot
		e.armDeadline(time.Duration(remaining) * e.config.SlotInterval)
		e.mu.Unlock()

		log.Printf("[%s] Joining round %d at slot %d, %d slots remaining", e.config.Name, msg.RoundID, slot, remaining)
		e.record(r)
		e.machine.Run(statemachine.EventNewSyncReceived)
		return
	}

	e.record(r)
}

func (e *Engine) record(r reception) {
	slot := int(r.msg.Slot)

	if slot < e.config.Slots {
		if e.config.TrackEstimates {
			e.store.RecordLocalEstimate(slot, r.local, r.estimate)
		} else {
			e.store.RecordLocal(slot, r.local)
		}
	}
	if slot >= 1 {
		e.store.RecordRemote(slot-1, r.msg.Ticks)
	}

	if e.config.Debug {
		log.Printf("[%s] Slot %d: local=%d remote=%d", e.config.Name, slot, r.local, r.msg.Ticks)
	}
}

// armDeadline must be called with e.mu held
func (e *Engine) armDeadline(d time.Duration) {
	if e.deadline != nil {
		e.deadline.Stop()
	}
	e.deadline = time.AfterFunc(d, func() {
		signal(e.endSync)
	})
}

func (e *Engine) enterWaitForSync() statemachine.Event {
	e.store.Reset()
	e.startScan()
	return statemachine.EventNone
}

func (e *Engine) enterUpdating() statemachine.Event {
	e.stopScan()
	e.store.Archive()

	e.mu.Lock()
	round := e.newRoundID
	e.mu.Unlock()

	if e.Stats != nil {
		local, rcv := e.store.Live()
		if err := e.Stats.Write(stats.Collect(e.config.Name, round, local, rcv)); err != nil {
			log.Printf("[%s] Failed to write burst statistics: %v", e.config.Name, err)
		}
	}

	local, rcv := e.store.History()
	fit, err := clocksync.FitHistory(local, rcv, e.config.Slots/2)
	if err != nil {
		log.Printf("[%s] Round %d regression failed: %v", e.config.Name, round, err)
		e.clock.MarkFailed()
		e.notify(Update{RoundID: round, Err: err})
		return statemachine.EventUpdateFailed
	}

	e.clock.ApplyCorrection(fit.Slope, fit.Offset)
	e.clock.MarkSynced()

	e.mu.Lock()
	e.currentRoundID = round
	e.mu.Unlock()

	log.Printf("[%s] Round %d synced: slope=%.9f offset=%.1f samples=%d", e.config.Name, round, fit.Slope, fit.Offset, fit.Samples)
	e.notify(Update{RoundID: round, Fit: fit})
	return statemachine.EventUpdateSucceeded
}

func (e *Engine) enterAdvertising() statemachine.Event {
	e.store.Reset()

	e.mu.Lock()
	round := e.currentRoundID
	ctx := e.ctx
	e.mu.Unlock()

	log.Printf("[%s] Advertising round %d", e.config.Name, round)

	for slot := 0; slot <= e.config.Slots; slot++ {
		e.sendSlot(round, slot)

		if slot == e.config.Slots {
			break
		}
		if !sleep(ctx, e.config.SlotInterval) {
			return statemachine.EventNone
		}
	}

	return statemachine.EventAdvertisingFinished
}

func (e *Engine) sendSlot(round uint8, slot int) {
	var ticks uint64
	if slot > 0 {
		t, ok := e.store.LocalTick(slot - 1)
		if !ok {
			log.Printf("[%s] No transmit tick for slot %d, skipping slot %d", e.config.Name, slot-1, slot)
			return
		}
		ticks = t
	}

	payload := protocol.EncodeAdvertisement(e.config.ManufacturerID, protocol.Message{
		RoundID: round,
		Slot:    uint8(slot),
		Ticks:   ticks,
	})

	err := e.radio.Advertise(payload, func(numSent int) {
		e.onSent(slot, numSent)
	})
	if err != nil {
		log.Printf("[%s] Failed to advertise slot %d: %v", e.config.Name, slot, err)
	}
}

// onSent records the logical transmit time of a slot. It may run on the
// transport's goroutine.
func (e *Engine) onSent(slot, numSent int) {
	if numSent < 1 || slot >= e.config.Slots {
		return
	}
	e.store.RecordLocal(slot, e.clock.LogicalTicks())
}

func (e *Engine) enterStopped() statemachine.Event {
	log.Printf("[%s] Stopped, waiting for network sync request", e.config.Name)
	return statemachine.EventNone
}

func (e *Engine) startScan() {
	if err := e.radio.StartScan(e.onScan); err != nil {
		log.Printf("[%s] Failed to start scan: %v", e.config.Name, err)
		return
	}
	e.mu.Lock()
	e.scanning = true
	e.mu.Unlock()
}

func (e *Engine) stopScan() {
	e.mu.Lock()
	scanning := e.scanning
	e.scanning = false
	e.mu.Unlock()

	if !scanning {
		return
	}
	if err := e.radio.StopScan(); err != nil {
		log.Printf("[%s] Failed to stop scan: %v", e.config.Name, err)
	}
}

func (e *Engine) notify(u Update) {
	if e.OnUpdate != nil {
		e.OnUpdate(u)
	}
}

// signal performs a non-blocking send on a one-slot channel
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
