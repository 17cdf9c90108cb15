// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the node UI
package ui

import (
	"github.com/Resonate-Protocol/meshsync-go/internal/sync"
	tea "github.com/charmbracelet/bubbletea"
)

// SyncRequest asks the node to start a network sync
type SyncRequest struct {
	WithEpoch bool // anchor the mesh clock to the host wall clock
}

// Control holds channels for TUI to node communication
type Control struct {
	Sync chan SyncRequest
	Quit chan struct{}
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Sync: make(chan SyncRequest, 4),
		Quit: make(chan struct{}, 1),
	}
}

func (c *Control) request(r SyncRequest) {
	select {
	case c.Sync <- r:
	default:
	}
}

func (c *Control) quit() {
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(name string, control *Control) Model {
	return Model{
		name:    name,
		slope:   1,
		quality: sync.QualityLost,
		control: control,
	}
}

// Run creates the TUI program. The caller starts it.
func Run(name string, control *Control) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(name, control), tea.WithAltScreen())
	return p, nil
}
