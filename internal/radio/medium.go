// ABOUTME: In-process broadcast medium
// ABOUTME: Connects endpoints with optional reach rules and seeded packet loss
package radio

import (
	"log"
	"math/rand/v2"
	"sync"
)

// MediumConfig holds medium configuration
type MediumConfig struct {
	DropRate float64 // Probability in [0,1) that one receiver misses one advert
	Seed     uint64
	RSSI     int8
}

// MediumStats counts traffic through the medium
type MediumStats struct {
	Sent      int
	Delivered int
	Dropped   int
}

// Medium delivers every advertisement to every scanning endpoint that can
// hear the sender. Delivery is synchronous: handlers run on the
// advertiser's goroutine before its sent callback.
type Medium struct {
	config MediumConfig

	mu        sync.Mutex
	rng       *rand.Rand
	endpoints map[string]*Endpoint
	links     map[string]map[string]bool
	stats     MediumStats
}

// NewMedium creates an empty medium
func NewMedium(config MediumConfig) *Medium {
	if config.RSSI == 0 {
		config.RSSI = -60
	}
	return &Medium{
		config:    config,
		rng:       rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
		endpoints: make(map[string]*Endpoint),
		links:     make(map[string]map[string]bool),
	}
}

// Attach adds a named endpoint. Attaching an existing name returns the
// existing endpoint.
func (m *Medium) Attach(name string) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, ok := m.endpoints[name]; ok {
		return ep
	}
	ep := &Endpoint{name: name, medium: m}
	m.endpoints[name] = ep
	return ep
}

// Link makes a and b hear each other. Unlinked endpoints hear each other;
// a linked endpoint only exchanges adverts with its links.
func (m *Medium) Link(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.links[a] == nil {
		m.links[a] = make(map[string]bool)
	}
	if m.links[b] == nil {
		m.links[b] = make(map[string]bool)
	}
	m.links[a][b] = true
	m.links[b][a] = true
}

// Stats returns a snapshot of traffic counters
func (m *Medium) Stats() MediumStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Medium) reaches(from, to string) bool {
	if len(m.links[to]) == 0 && len(m.links[from]) == 0 {
		return true
	}
	return m.links[from][to]
}

type delivery struct {
	handler ScanHandler
	payload []byte
}

func (m *Medium) broadcast(from *Endpoint, payload []byte) {
	m.mu.Lock()
	m.stats.Sent++
	var targets []delivery
	for name, ep := range m.endpoints {
		if ep == from || !m.reaches(from.name, name) {
			continue
		}
		handler := ep.scanHandler()
		if handler == nil {
			continue
		}
		if m.config.DropRate > 0 && m.rng.Float64() < m.config.DropRate {
			m.stats.Dropped++
			continue
		}
		m.stats.Delivered++
		targets = append(targets, delivery{handler: handler, payload: append([]byte(nil), payload...)})
	}
	rssi := m.config.RSSI
	m.mu.Unlock()

	for _, d := range targets {
		d.handler(d.payload, rssi)
	}
}

// Endpoint is one node's radio on a Medium
type Endpoint struct {
	name   string
	medium *Medium

	mu      sync.Mutex
	handler ScanHandler
	closed  bool
}

// StartScan delivers future advertisements to handler
func (e *Endpoint) StartScan(handler ScanHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.handler = handler
	return nil
}

// StopScan stops delivery
func (e *Endpoint) StopScan() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.handler == nil {
		return ErrNotScanning
	}
	e.handler = nil
	return nil
}

// Advertise broadcasts payload once and reports completion
func (e *Endpoint) Advertise(payload []byte, sent SentFunc) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return ErrClosed
	}

	e.medium.broadcast(e, payload)
	if sent != nil {
		sent(1)
	}
	return nil
}

// Close detaches the endpoint from the medium
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.handler = nil
	e.mu.Unlock()

	e.medium.mu.Lock()
	delete(e.medium.endpoints, e.name)
	e.medium.mu.Unlock()

	log.Printf("Radio endpoint %s detached", e.name)
	return nil
}

func (e *Endpoint) scanHandler() ScanHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}
