// ABOUTME: mDNS discovery of radio hubs
// ABOUTME: Hubs advertise their radio path and loss settings, nodes browse for them
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// HubService is the mDNS service type of a radio hub
const HubService = "_meshsync-hub._tcp"

const defaultPath = "/radio"

// Config describes the hub being advertised. Browsing ignores it.
type Config struct {
	Name     string
	Port     int
	HubID    string
	Path     string  // WebSocket path, defaults to /radio
	DropRate float64 // Simulated loss, published so nodes can log it
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	hubs   chan *HubInfo
}

// HubInfo describes a discovered hub
type HubInfo struct {
	Name     string
	ID       string
	Host     string
	Port     int
	Path     string
	DropRate float64
}

// Addr returns host:port
func (h *HubInfo) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// key identifies a hub across repeated answers
func (h *HubInfo) key() string {
	if h.ID != "" {
		return h.ID
	}
	return h.Addr()
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(chan *HubInfo, 10),
	}
}

// hubTXT encodes the hub's radio settings as TXT records
func hubTXT(c Config) []string {
	path := c.Path
	if path == "" {
		path = defaultPath
	}
	txt := []string{"path=" + path}
	if c.HubID != "" {
		txt = append(txt, "id="+c.HubID)
	}
	if c.DropRate > 0 {
		txt = append(txt, "loss="+strconv.FormatFloat(c.DropRate, 'f', -1, 64))
	}
	return txt
}

// Advertise publishes this hub via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.Name,
		HubService,
		"",
		"",
		m.config.Port,
		ips,
		hubTXT(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising hub %s on port %d", m.config.Name, m.config.Port)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// hubFromEntry reads a hub out of an mDNS answer. Entries without an IPv4
// address are skipped since nodes dial over IPv4.
func hubFromEntry(entry *mdns.ServiceEntry) (*HubInfo, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return nil, false
	}

	hub := &HubInfo{
		Name: strings.TrimSuffix(entry.Name, "."+HubService+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: defaultPath,
	}

	for _, field := range entry.InfoFields {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "path":
			if v != "" {
				hub.Path = v
			}
		case "id":
			hub.ID = v
		case "loss":
			if rate, err := strconv.ParseFloat(v, 64); err == nil {
				hub.DropRate = rate
			}
		}
	}

	return hub, true
}

// Browse searches for radio hubs in the background
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop queries until Stop, reporting each hub once
func (m *Manager) browseLoop() {
	seen := make(map[string]bool)

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				hub, ok := hubFromEntry(entry)
				if !ok || seen[hub.key()] {
					continue
				}
				seen[hub.key()] = true

				log.Printf("Discovered hub %s at %s%s", hub.Name, hub.Addr(), hub.Path)

				select {
				case m.hubs <- hub:
				case <-m.ctx.Done():
				}
			}
		}()

		mdns.Query(&mdns.QueryParam{
			Service: HubService,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		})
		close(entries)
		<-done
	}
}

// Hubs returns the channel of discovered hubs
func (m *Manager) Hubs() <-chan *HubInfo {
	return m.hubs
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns the IPv4 addresses of up, non-loopback interfaces
func getLocalIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips, nil
}
