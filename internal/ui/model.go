// ABOUTME: Bubbletea model for the node status TUI
// ABOUTME: Defines display state, key handling and status updates
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/statemachine"
	"github.com/Resonate-Protocol/meshsync-go/internal/sync"
	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI state
type Model struct {
	// Node
	name  string
	role  statemachine.Role
	state statemachine.State

	// Radio
	connected bool
	hubName   string

	// Sync
	currentRound uint8
	newRound     uint8
	slope        float64
	offset       float64
	quality      sync.Quality
	syncCount    int
	rxDropped    uint64

	// Time
	epochValid   bool
	unixMicros   uint64
	logicalTicks uint64

	// Last round
	lastError string

	// Debug
	showDebug bool

	control *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSync()
	s += m.renderTime()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders node identity and radio status
func (m Model) renderHeader() string {
	radio := "Disconnected"
	if m.connected {
		radio = fmt.Sprintf("Connected to %s", m.hubName)
	}

	return fmt.Sprintf(`┌─ Mesh Sync Node ─────────────────────────────────────┐
│ Node:   %-45s │
│ Role:   %-12s State: %-25s │
│ Radio:  %-45s │
├──────────────────────────────────────────────────────┤
`, truncate(m.name, 45), m.role, m.state, truncate(radio, 45))
}

// renderSync renders the current correction and its quality
func (m Model) renderSync() string {
	icon := "✗"
	switch m.quality {
	case sync.QualityGood:
		icon = "✓"
	case sync.QualityDegraded:
		icon = "⚠"
	}

	s := fmt.Sprintf("│ Sync:   %s %-43s │\n", icon, fmt.Sprintf("%s (%d rounds)", m.quality, m.syncCount))
	s += fmt.Sprintf("│ Round:  %-45d │\n", m.currentRound)
	s += fmt.Sprintf("│ Slope:  %-45s │\n", fmt.Sprintf("%.9f (%+.2f ppm)", m.slope, (m.slope-1)*1e6))
	s += fmt.Sprintf("│ Offset: %-45s │\n", fmt.Sprintf("%.1f ticks", m.offset))
	if m.lastError != "" {
		s += fmt.Sprintf("│ Last:   %-45s │\n", truncate(m.lastError, 45))
	}
	return s
}

// renderTime renders the mesh clock
func (m Model) renderTime() string {
	unix := "no epoch"
	if m.epochValid {
		unix = formatUnixMicros(m.unixMicros)
	}

	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Ticks:  %-45d │
│ Time:   %-45s │
│                                                      │
`, m.logicalTicks, unix)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ s:Sync  e:Sync+Epoch  d:Debug  q:Quit                │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Next round:   %-37d │
│   RX dropped:   %-37d │
│   Raw offset:   %-37s │
`, m.newRound, m.rxDropped, fmt.Sprintf("%+.3fms", m.offset*1000/sync.TickRateHz))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			m.control.quit()
		}
		return m, tea.Quit
	case "s":
		if m.control != nil {
			m.control.request(SyncRequest{})
		}
	case "e":
		if m.control != nil {
			m.control.request(SyncRequest{WithEpoch: true})
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.HubName != "" {
		m.hubName = msg.HubName
	}
	if msg.Name != "" {
		m.name = msg.Name
	}
	if msg.Node != nil {
		n := msg.Node
		m.role = n.Role
		m.state = n.State
		m.currentRound = n.CurrentRoundID
		m.newRound = n.NewRoundID
		m.slope = n.Slope
		m.offset = n.Offset
		m.quality = n.Quality
		m.syncCount = n.SyncCount
		m.epochValid = n.EpochValid
		m.unixMicros = n.UnixMicros
		m.logicalTicks = n.LogicalTicks
		m.rxDropped = n.RxDropped
	}
	if msg.LastError != nil {
		m.lastError = *msg.LastError
	}
}

// NodeStatus mirrors the node snapshot shown by the TUI
type NodeStatus struct {
	Role           statemachine.Role
	State          statemachine.State
	CurrentRoundID uint8
	NewRoundID     uint8
	Slope          float64
	Offset         float64
	Quality        sync.Quality
	SyncCount      int
	EpochValid     bool
	UnixMicros     uint64
	LogicalTicks   uint64
	RxDropped      uint64
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Name      string
	Connected *bool
	HubName   string
	Node      *NodeStatus
	LastError *string // empty string clears
}

func formatUnixMicros(us uint64) string {
	t := time.UnixMicro(int64(us)).UTC()
	return t.Format("2006-01-02 15:04:05.000000 UTC")
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
