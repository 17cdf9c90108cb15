// ABOUTME: High-level Node API for mesh clock sync
// ABOUTME: Wires the sync engine to a radio, correction persistence and statistics
package meshsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/engine"
	"github.com/Resonate-Protocol/meshsync-go/internal/radio"
	"github.com/Resonate-Protocol/meshsync-go/internal/statemachine"
	"github.com/Resonate-Protocol/meshsync-go/internal/stats"
	"github.com/Resonate-Protocol/meshsync-go/internal/store"
	clocksync "github.com/Resonate-Protocol/meshsync-go/internal/sync"
	"github.com/Resonate-Protocol/meshsync-go/pkg/protocol"
)

// Role is the part a node plays in the mesh
type Role = statemachine.Role

const (
	RoleAuthority = statemachine.RoleAuthority
	RoleClient    = statemachine.RoleClient
)

// Quality describes how fresh a node's correction is
type Quality = clocksync.Quality

const (
	QualityGood     = clocksync.QualityGood
	QualityDegraded = clocksync.QualityDegraded
	QualityLost     = clocksync.QualityLost
)

// Radio types
type (
	Transport    = radio.Transport
	ScanHandler  = radio.ScanHandler
	SentFunc     = radio.SentFunc
	Medium       = radio.Medium
	MediumConfig = radio.MediumConfig
)

// Clock types
type (
	TickSource     = clocksync.TickSource
	MonotonicTicks = clocksync.MonotonicTicks
	ManualTicks    = clocksync.ManualTicks
	SkewedTicks    = clocksync.SkewedTicks
)

// Status is a point-in-time snapshot of a node
type Status = engine.Status

// Update reports the outcome of one round on a client
type Update = engine.Update

// StatsSink consumes per-round slot statistics
type StatsSink = stats.Sink

// TickRateHz is the rate of logical ticks
const TickRateHz = clocksync.TickRateHz

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrInvalidRole    = engine.ErrInvalidRole
)

// NewMedium creates an in-process broadcast medium
func NewMedium(config MediumConfig) *Medium {
	return radio.NewMedium(config)
}

// NewManualTicks creates a caller-driven tick source
func NewManualTicks(start uint64) *ManualTicks {
	return clocksync.NewManualTicks(start)
}

// NodeConfig holds node configuration
type NodeConfig struct {
	// Name identifies the node in logs and statistics
	Name string

	// Transport is the broadcast radio (required)
	Transport Transport

	// Ticks is the raw uptime counter (default: host monotonic clock)
	Ticks TickSource

	// SlotsPerBurst is S; every round sends S+1 slots (default: 20)
	SlotsPerBurst int

	// HistoryDepth is the number of rounds the regression spans (default: 4)
	HistoryDepth int

	// SlotInterval is the delay between slots (default: 100ms)
	SlotInterval time.Duration

	// ManufacturerID tags sync adverts (default: 0x1234)
	ManufacturerID uint16

	// TrackEstimates records this node's estimate of the sender's clock per slot
	TrackEstimates bool

	// QualityMaxAge is how long a correction stays good (default: 5m)
	QualityMaxAge time.Duration

	// StorePath persists the last correction; empty disables persistence
	StorePath string

	// Stats receives per-round slot statistics
	Stats StatsSink

	// OnUpdate is called after every client round
	OnUpdate func(Update)

	// Debug enables per-slot logging
	Debug bool
}

// Node is one participant in the mesh
type Node struct {
	config NodeConfig
	engine *engine.Engine
	db     *store.DB

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewNode creates a node. The node does nothing until SetRole and Init.
func NewNode(config NodeConfig) (*Node, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.Name == "" {
		config.Name = "meshsync"
	}
	if config.Ticks == nil {
		config.Ticks = clocksync.MonotonicTicks{}
	}
	if config.SlotsPerBurst == 0 {
		config.SlotsPerBurst = 20
	}
	if config.HistoryDepth == 0 {
		config.HistoryDepth = 4
	}
	if config.SlotInterval == 0 {
		config.SlotInterval = 100 * time.Millisecond
	}
	if config.ManufacturerID == 0 {
		config.ManufacturerID = protocol.DefaultManufacturerID
	}
	if config.QualityMaxAge == 0 {
		config.QualityMaxAge = 5 * time.Minute
	}

	eng, err := engine.New(engine.Config{
		Name:           config.Name,
		Slots:          config.SlotsPerBurst,
		HistoryDepth:   config.HistoryDepth,
		SlotInterval:   config.SlotInterval,
		ManufacturerID: config.ManufacturerID,
		TrackEstimates: config.TrackEstimates,
		QualityMaxAge:  config.QualityMaxAge,
		Debug:          config.Debug,
	}, clocksync.NewLogicalClock(config.Ticks), config.Transport)
	if err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	n := &Node{
		config: config,
		engine: eng,
	}

	if config.StorePath != "" {
		db, err := store.Open(config.StorePath)
		if err != nil {
			return nil, err
		}
		n.db = db
	}

	eng.Stats = config.Stats
	eng.OnUpdate = n.handleUpdate

	return n, nil
}

// handleUpdate persists successful corrections, then forwards the update
func (n *Node) handleUpdate(u Update) {
	if u.Err == nil && n.db != nil {
		err := n.db.Save(store.Record{
			Slope:   u.Fit.Slope,
			Offset:  u.Fit.Offset,
			RoundID: u.RoundID,
			Samples: u.Fit.Samples,
		})
		if err != nil {
			log.Printf("[%s] Failed to persist correction: %v", n.config.Name, err)
		}
	}

	if n.config.OnUpdate != nil {
		n.config.OnUpdate(u)
	}
}

// SetRole assigns the role. A client restores its last saved correction.
func (n *Node) SetRole(role Role) error {
	if err := n.engine.SetRole(role); err != nil {
		return err
	}

	if role == RoleClient && n.db != nil {
		rec, ok, err := n.db.Load()
		if err != nil {
			log.Printf("[%s] %v", n.config.Name, err)
		} else if ok {
			n.engine.RestoreCorrection(rec.Slope, rec.Offset)
		}
	}
	return nil
}

// Init starts the sync worker. It can only be called once.
func (n *Node) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}
	n.started = true

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})

	go func() {
		defer close(n.done)
		if err := n.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[%s] Sync worker stopped: %v", n.config.Name, err)
		}
	}()

	return nil
}

// StartNetworkSync starts a new round. It is a no-op on clients.
func (n *Node) StartNetworkSync() {
	n.engine.StartNetworkSync()
}

// StartNetworkSyncWithEpoch anchors the mesh clock to a Unix time in
// microseconds, then starts a round. It is a no-op on clients.
func (n *Node) StartNetworkSyncWithEpoch(epochMicros uint64) {
	n.engine.StartNetworkSyncWithEpoch(epochMicros)
}

// CurrentUnixTimeMicros returns the node's estimate of Unix time. It is
// meaningful once an epoch has reached this node.
func (n *Node) CurrentUnixTimeMicros() uint64 {
	return n.engine.Clock().CurrentUnixMicros()
}

// LogicalTicks returns the mesh clock in ticks
func (n *Node) LogicalTicks() uint64 {
	return n.engine.Clock().LogicalTicks()
}

// Decompress expands a 32-bit truncated microsecond timestamp using the
// node's current mesh time
func (n *Node) Decompress(compressed uint32) uint64 {
	return n.engine.Clock().Decompress(compressed)
}

// Status returns a snapshot of the node
func (n *Node) Status() Status {
	return n.engine.Status()
}

// Close stops the worker and releases persistence and statistics
func (n *Node) Close() error {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	if n.config.Stats != nil {
		errs = append(errs, n.config.Stats.Close())
	}
	return errors.Join(errs...)
}
