// ABOUTME: Main node application orchestration
// ABOUTME: Coordinates hub discovery, radio transport, sync node, stats and UI
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/client"
	"github.com/Resonate-Protocol/meshsync-go/internal/config"
	"github.com/Resonate-Protocol/meshsync-go/internal/discovery"
	"github.com/Resonate-Protocol/meshsync-go/internal/statemachine"
	"github.com/Resonate-Protocol/meshsync-go/internal/stats"
	"github.com/Resonate-Protocol/meshsync-go/internal/ui"
	"github.com/Resonate-Protocol/meshsync-go/internal/version"
	"github.com/Resonate-Protocol/meshsync-go/pkg/meshsync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// DiscoveryTimeout bounds the wait for an mDNS hub
const DiscoveryTimeout = 10 * time.Second

// Config holds node application configuration
type Config struct {
	File     *config.Config
	UseTUI   bool
	AutoSync time.Duration // authority only; zero disables periodic rounds
}

// App runs one mesh node against a radio hub
type App struct {
	config Config
	nodeID string
	role   statemachine.Role

	mu     sync.Mutex
	client *client.Client
	node   *meshsync.Node

	discovery *discovery.Manager
	tuiProg   *tea.Program
	control   *ui.Control
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a node application
func New(cfg Config) (*App, error) {
	if cfg.File == nil {
		cfg.File = config.Default()
	}
	if err := cfg.File.Validate(); err != nil {
		return nil, err
	}

	role, err := statemachine.ParseRole(cfg.File.Node.Role)
	if err != nil {
		return nil, err
	}

	nodeID := uuid.New().String()
	if cfg.File.Node.Name == "" {
		cfg.File.Node.Name = "node-" + nodeID[:8]
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		config: cfg,
		nodeID: nodeID,
		role:   role,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start connects to the hub, starts the node and blocks until Stop or a
// TUI quit
func (a *App) Start() error {
	file := a.config.File
	log.Printf("Starting %s %s as %s (%s)", version.Product, version.Version, file.Node.Name, a.role)

	if a.config.UseTUI {
		a.control = ui.NewControl()
		prog, err := ui.Run(file.Node.Name, a.control)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		a.tuiProg = prog
		go func() {
			if _, err := prog.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	hubAddr, err := a.resolveHub()
	if err != nil {
		return err
	}

	hub := client.NewClient(client.Config{
		HubAddr: hubAddr,
		NodeID:  a.nodeID,
		Name:    file.Node.Name,
	})
	if err := hub.Connect(a.ctx); err != nil {
		return err
	}
	log.Printf("Connected to hub %s (%s)", hubAddr, hub.HubID())

	connected := true
	a.updateTUI(ui.StatusMsg{Connected: &connected, HubName: hubAddr})

	sink, err := OpenStats(a.ctx, file.Stats)
	if err != nil {
		hub.Close()
		return err
	}

	node, err := meshsync.NewNode(meshsync.NodeConfig{
		Name:           file.Node.Name,
		Transport:      hub,
		SlotsPerBurst:  file.Sync.SlotsPerBurst,
		HistoryDepth:   file.Sync.HistoryDepth,
		SlotInterval:   file.Sync.Interval(),
		ManufacturerID: file.Sync.ManufacturerID,
		TrackEstimates: file.Sync.TrackEstimates,
		QualityMaxAge:  file.Sync.MaxAge(),
		StorePath:      file.Persistence.Path,
		Stats:          sink,
		OnUpdate:       a.handleUpdate,
		Debug:          file.Log.Debug,
	})
	if err != nil {
		hub.Close()
		if sink != nil {
			sink.Close()
		}
		return err
	}

	a.mu.Lock()
	a.client, a.node = hub, node
	stopped := a.ctx.Err() != nil
	a.mu.Unlock()
	if stopped {
		node.Close()
		hub.Close()
		return nil
	}

	if err := node.SetRole(a.role); err != nil {
		return err
	}
	if err := node.Init(); err != nil {
		return err
	}

	if a.role == statemachine.RoleAuthority && a.config.AutoSync > 0 {
		go a.autoSyncLoop(node, a.config.AutoSync)
	}
	if a.control != nil {
		go a.handleControl(node)
	}
	go a.statusLoop(node, hub)

	<-a.ctx.Done()
	return nil
}

// resolveHub returns the configured hub or waits for one on mDNS
func (a *App) resolveHub() (string, error) {
	radio := a.config.File.Radio
	if radio.HubAddr != "" {
		return radio.HubAddr, nil
	}
	if !radio.Discover {
		return "", fmt.Errorf("no hub address and discovery disabled")
	}

	log.Printf("Starting hub discovery...")
	disc := discovery.NewManager(discovery.Config{})
	a.mu.Lock()
	a.discovery = disc
	a.mu.Unlock()
	disc.Browse()

	select {
	case hub := <-disc.Hubs():
		if hub.DropRate > 0 {
			log.Printf("Hub %s simulates %.1f%% advert loss", hub.Name, hub.DropRate*100)
		}
		return hub.Addr(), nil
	case <-time.After(DiscoveryTimeout):
		return "", fmt.Errorf("no hub found after %v", DiscoveryTimeout)
	case <-a.ctx.Done():
		return "", a.ctx.Err()
	}
}

// OpenStats builds the configured statistics sinks. It returns nil when
// none are configured.
func OpenStats(ctx context.Context, cfg config.StatsConfig) (stats.Sink, error) {
	var sinks stats.Multi

	if cfg.CSVPath != "" {
		csv, err := stats.OpenCSV(cfg.CSVPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csv)
	}

	if cfg.RedisAddr != "" {
		r, err := stats.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		log.Printf("Publishing burst statistics to redis channel %s", r.Channel())
		sinks = append(sinks, r)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

// handleUpdate logs round results and forwards failures to the TUI
func (a *App) handleUpdate(u meshsync.Update) {
	var msg string
	if u.Err != nil {
		msg = fmt.Sprintf("round %d: %v", u.RoundID, u.Err)
		log.Printf("Sync round %d failed: %v", u.RoundID, u.Err)
	} else {
		log.Printf("Sync round %d: slope=%.9f offset=%.1f (%d samples)",
			u.RoundID, u.Fit.Slope, u.Fit.Offset, u.Fit.Samples)
	}
	a.updateTUI(ui.StatusMsg{LastError: &msg})
}

// autoSyncLoop starts a round with the host wall clock as epoch every period
func (a *App) autoSyncLoop(node *meshsync.Node, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	node.StartNetworkSyncWithEpoch(uint64(time.Now().UnixMicro()))

	for {
		select {
		case <-ticker.C:
			node.StartNetworkSyncWithEpoch(uint64(time.Now().UnixMicro()))
		case <-a.ctx.Done():
			return
		}
	}
}

// handleControl processes requests from the TUI
func (a *App) handleControl(node *meshsync.Node) {
	for {
		select {
		case req := <-a.control.Sync:
			if req.WithEpoch {
				node.StartNetworkSyncWithEpoch(uint64(time.Now().UnixMicro()))
			} else {
				node.StartNetworkSync()
			}
		case <-a.control.Quit:
			log.Printf("Received quit signal from TUI")
			a.cancel()
			return
		case <-a.ctx.Done():
			return
		}
	}
}

// statusLoop periodically pushes the node snapshot to the TUI and the
// connection state
func (a *App) statusLoop(node *meshsync.Node, hub *client.Client) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	wasConnected := true
	for {
		select {
		case <-ticker.C:
			s := node.Status()
			a.updateTUI(ui.StatusMsg{Node: &ui.NodeStatus{
				Role:           s.Role,
				State:          s.State,
				CurrentRoundID: s.CurrentRoundID,
				NewRoundID:     s.NewRoundID,
				Slope:          s.Slope,
				Offset:         s.Offset,
				Quality:        s.Quality,
				SyncCount:      s.SyncCount,
				EpochValid:     s.EpochValid,
				UnixMicros:     s.UnixMicros,
				LogicalTicks:   s.LogicalTicks,
				RxDropped:      s.RxDropped,
			}})

			if connected := hub.IsConnected(); connected != wasConnected {
				wasConnected = connected
				if !connected {
					log.Printf("Lost connection to hub")
				}
				a.updateTUI(ui.StatusMsg{Connected: &connected})
			}

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) updateTUI(msg ui.StatusMsg) {
	if a.tuiProg != nil {
		a.tuiProg.Send(msg)
	}
}

// Node returns the running node, or nil before Start connects
func (a *App) Node() *meshsync.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.node
}

// Done is closed when the app stops
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Stop stops the node application
func (a *App) Stop() {
	a.mu.Lock()
	a.cancel()
	node, hub, disc := a.node, a.client, a.discovery
	a.mu.Unlock()

	if node != nil {
		if err := node.Close(); err != nil {
			log.Printf("Error closing node: %v", err)
		}
	}

	if hub != nil {
		hub.Close()
	}

	if disc != nil {
		disc.Stop()
	}

	if a.tuiProg != nil {
		a.tuiProg.Quit()
	}
}
