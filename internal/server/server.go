// ABOUTME: Radio hub server for mesh sync nodes
// ABOUTME: Relays advertisements between WebSocket-connected nodes like a shared broadcast channel
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/discovery"
	"github.com/Resonate-Protocol/meshsync-go/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RadioPath is the WebSocket endpoint nodes connect to
const RadioPath = "/radio"

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
	DropRate   float64 // Probability that one node misses one advert
	RSSI       int8    // Signal strength reported with every relayed advert
	Seed       uint64
}

// Server is the radio hub
type Server struct {
	config Config
	hubID  string

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Client management
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// Packet loss simulation
	rngMu sync.Mutex
	rng   *rand.Rand

	relayed atomic.Uint64
	dropped atomic.Uint64

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui       *HubTUI
	startTime time.Time

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once // Ensure Stop() is only called once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected node
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	sent     atomic.Uint64
	received atomic.Uint64

	// Output channel for messages
	sendChan chan interface{}
}

// New creates a new hub instance
func New(config Config) *Server {
	if config.RSSI == 0 {
		config.RSSI = -60
	}

	s := &Server{
		config: config,
		hubID:  uuid.New().String(),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Nodes are not browsers; the hub is meant for trusted test networks
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[string]*Client),
		rng:       rand.New(rand.NewPCG(config.Seed, config.Seed+1)),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	s.mux.HandleFunc(RadioPath, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the radio endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ID returns the hub id
func (s *Server) ID() string {
	return s.hubID
}

// Start runs the hub until Stop is called or the listener fails
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewHubTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start(s.config.Name, s.config.Port)
		}()

		// Give TUI time to initialize
		time.Sleep(100 * time.Millisecond)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tuiLoop()
		}()
	}

	log.Printf("Hub starting: %s (ID: %s)", s.config.Name, s.hubID)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			Name:     s.config.Name,
			Port:     s.config.Port,
			HubID:    s.hubID,
			Path:     RadioPath,
			DropRate: s.config.DropRate,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("Radio hub listening on %s%s", addr, RadioPath)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Hub shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
		s.Stop()
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
		s.Stop()
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.closeClients()
	s.wg.Wait()
	log.Printf("Hub stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the hub
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// closeClients drops every connection so reader goroutines exit
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	if s.config.Debug {
		log.Printf("[DEBUG] New WebSocket connection from %s", r.RemoteAddr)
	}

	s.handleConnection(conn)
}

// handleConnection manages a node connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	// Wait for node/hello
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	if msg.Type != protocol.TypeNodeHello {
		log.Printf("Expected %s, got %s", protocol.TypeNodeHello, msg.Type)
		return
	}

	var hello protocol.NodeHello
	if err := protocol.DecodePayload(msg.Payload, &hello); err != nil {
		log.Printf("Error decoding node hello: %v", err)
		return
	}

	if hello.NodeID == "" || hello.Name == "" {
		log.Printf("Node hello missing id or name")
		return
	}

	client := &Client{
		ID:       hello.NodeID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan interface{}, 100),
	}

	// Check for duplicate node ID and register atomically
	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.NodeID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Node ID %s already connected (name: %s), rejecting duplicate", hello.NodeID, existing.Name)

		errorMsg := protocol.Message{
			Type: protocol.TypeHubError,
			Payload: protocol.HubError{
				Error:   "duplicate_node_id",
				Message: "Node ID already connected",
			},
		}
		if data, err := json.Marshal(errorMsg); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	log.Printf("Node joined: %s (ID: %s)", client.Name, client.ID)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		close(client.sendChan)
		s.clientsMu.Unlock()
		log.Printf("Node left: %s", client.Name)
	}()

	// hub/hello is queued before the writer starts, so it is always first
	if err := s.sendMessage(client, protocol.TypeHubHello, protocol.HubHello{
		HubID:   s.hubID,
		Name:    s.config.Name,
		Version: protocol.ProtocolVersion,
	}); err != nil {
		log.Printf("Error sending hub hello: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.relay(client, data)
		case websocket.TextMessage:
			s.handleClientMessage(client, data)
		}
	}
}

// relay broadcasts one advert to every other node and acks the sender
func (s *Server) relay(from *Client, payload []byte) {
	from.sent.Add(1)
	frame := protocol.EncodeRelay(s.config.RSSI, payload)
	count := 0

	// Sends happen under the read lock so a leaving node's channel cannot
	// close underneath them
	s.clientsMu.RLock()
	for id, c := range s.clients {
		if id == from.ID {
			continue
		}
		if s.drop() {
			s.dropped.Add(1)
			continue
		}
		if err := s.sendBinary(c, frame); err != nil {
			s.dropped.Add(1)
			log.Printf("Dropping advert for %s: %v", c.Name, err)
			continue
		}
		c.received.Add(1)
		count++
	}
	s.clientsMu.RUnlock()

	s.relayed.Add(uint64(count))

	if s.config.Debug {
		log.Printf("[DEBUG] Relayed %d bytes from %s to %d nodes", len(payload), from.Name, count)
	}

	if err := s.sendMessage(from, protocol.TypeRadioSent, protocol.RadioSent{Count: count}); err != nil {
		log.Printf("Error acking advert from %s: %v", from.Name, err)
	}
}

func (s *Server) drop() bool {
	if s.config.DropRate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.config.DropRate
}

// handleClientMessage processes JSON messages from nodes
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	log.Printf("Unknown message type from %s: %s", client.Name, msg.Type)
}

// clientWriter sends messages to the node
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := client.Conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Error writing binary message: %v", err)
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Error marshaling message: %v", err)
					continue
				}
				client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Error writing text message: %v", err)
					return
				}
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// sendMessage queues a JSON message for a node
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// sendBinary queues binary data for a node
func (s *Server) sendBinary(client *Client, data []byte) error {
	select {
	case client.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// Clients lists connected nodes sorted by name
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, ClientInfo{
			Name:     c.Name,
			ID:       c.ID,
			Sent:     c.sent.Load(),
			Received: c.received.Load(),
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients
}

// Counters returns relayed and dropped advert totals
func (s *Server) Counters() (relayed, dropped uint64) {
	return s.relayed.Load(), s.dropped.Load()
}
