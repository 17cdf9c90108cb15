// ABOUTME: Hub TUI for watching relay traffic and connected nodes
// ABOUTME: Shows relay rate, observed versus configured loss and a per-node table
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Width(10)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	tableHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// HubTUI runs the hub's bubbletea program
type HubTUI struct {
	program  *tea.Program
	updates  chan HubStatus
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// HubStatus is one snapshot of hub traffic
type HubStatus struct {
	Name     string
	Port     int
	Nodes    []ClientInfo
	Relayed  uint64 // Deliveries to nodes
	Dropped  uint64 // Deliveries lost to simulation or full buffers
	DropRate float64
	At       time.Time
}

// ClientInfo holds node information for display
type ClientInfo struct {
	Name     string
	ID       string
	Sent     uint64 // Adverts sent by the node
	Received uint64 // Adverts relayed to the node
}

type hubModel struct {
	status   HubStatus
	rate     float64 // deliveries per second between the last two snapshots
	started  time.Time
	quitting bool
	quit     chan struct{}
}

type hubStatusMsg HubStatus

func (m hubModel) Init() tea.Cmd {
	return nil
}

func (m hubModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			select {
			case m.quit <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case hubStatusMsg:
		next := HubStatus(msg)
		m.rate = relayRate(m.status, next)
		m.status = next
	}

	return m, nil
}

func (m hubModel) View() string {
	if m.quitting {
		return "Shutting down hub...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Mesh Sync Radio Hub"))
	b.WriteString("\n")
	b.WriteString(m.renderMedium())
	b.WriteString("\n")
	b.WriteString(m.renderNodes())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q: stop hub"))
	return b.String()
}

// renderMedium shows hub identity and the simulated channel
func (m hubModel) renderMedium() string {
	s := m.status
	uptime := time.Since(m.started).Round(time.Second)

	loss := fmt.Sprintf("%.1f%% observed", observedLoss(s)*100)
	if s.DropRate > 0 {
		loss += fmt.Sprintf(", %.1f%% configured", s.DropRate*100)
	}

	rows := [][2]string{
		{"Hub", fmt.Sprintf("%s on :%d", s.Name, s.Port)},
		{"Uptime", uptime.String()},
		{"Relayed", fmt.Sprintf("%d deliveries (%.1f/s)", s.Relayed, m.rate)},
		{"Loss", loss},
	}

	var b strings.Builder
	for _, r := range rows {
		b.WriteString(labelStyle.Render(r[0]))
		b.WriteString(valueStyle.Render(r[1]))
		b.WriteString("\n")
	}
	return b.String()
}

// renderNodes lists every node with its share of the airtime
func (m hubModel) renderNodes() string {
	nodes := m.status.Nodes
	if len(nodes) == 0 {
		return warnStyle.Render("No nodes on the medium") + "\n"
	}

	var total uint64
	for _, n := range nodes {
		total += n.Sent
	}

	var b strings.Builder
	b.WriteString(tableHeader.Render(fmt.Sprintf("%-20s %-8s %8s %8s %7s", "NODE", "ID", "SENT", "HEARD", "AIR")))
	b.WriteString("\n")
	for _, n := range nodes {
		share := 0.0
		if total > 0 {
			share = float64(n.Sent) / float64(total) * 100
		}
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-20s %-8s %8d %8d %6.1f%%",
			truncateName(n.Name, 20), shortID(n.ID), n.Sent, n.Received, share)))
		b.WriteString("\n")
	}
	return b.String()
}

// relayRate is the delivery rate between two snapshots. A counter that
// went backwards or a first snapshot yields zero.
func relayRate(prev, next HubStatus) float64 {
	if prev.At.IsZero() || next.Relayed < prev.Relayed {
		return 0
	}
	dt := next.At.Sub(prev.At).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(next.Relayed-prev.Relayed) / dt
}

// observedLoss is the fraction of attempted deliveries that were dropped
func observedLoss(s HubStatus) float64 {
	attempts := s.Relayed + s.Dropped
	if attempts == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(attempts)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// NewHubTUI creates the hub TUI. Start runs it.
func NewHubTUI() *HubTUI {
	return &HubTUI{
		updates: make(chan HubStatus, 10),
		quit:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start runs the program until Stop or a quit key
func (t *HubTUI) Start(name string, port int) error {
	t.program = tea.NewProgram(hubModel{
		status:  HubStatus{Name: name, Port: port},
		started: time.Now(),
		quit:    t.quit,
	}, tea.WithAltScreen())

	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(hubStatusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update queues a snapshot without blocking the hub
func (t *HubTUI) Update(status HubStatus) {
	select {
	case t.updates <- status:
	case <-t.done:
	default:
	}
}

// Stop ends the program
func (t *HubTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.program != nil {
			t.program.Quit()
		}
	})
}

// QuitChan signals a quit key press
func (t *HubTUI) QuitChan() <-chan struct{} {
	return t.quit
}
