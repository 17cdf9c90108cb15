// ABOUTME: TUI update helpers for the hub
// ABOUTME: Periodically pushes node list and relay counters to the TUI
package server

import "time"

// tuiLoop refreshes the TUI until the hub stops
func (s *Server) tuiLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateTUI()
		}
	}
}

// updateTUI sends current hub state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	relayed, dropped := s.Counters()
	s.tui.Update(HubStatus{
		Name:     s.config.Name,
		Port:     s.config.Port,
		Nodes:    s.Clients(),
		Relayed:  relayed,
		Dropped:  dropped,
		DropRate: s.config.DropRate,
		At:       time.Now(),
	})
}
