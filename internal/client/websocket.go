// ABOUTME: WebSocket radio transport backed by the radio hub
// ABOUTME: Handles connection with backoff, the hello handshake, relayed adverts and send acks
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/protocol"
	"github.com/Resonate-Protocol/meshsync-go/internal/radio"
	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

// ErrRejected means the hub refused the hello, e.g. for a duplicate node id
var ErrRejected = errors.New("hub rejected node")

// Config holds client configuration
type Config struct {
	HubAddr string
	NodeID  string
	Name    string

	// MaxElapsed bounds connection retries; zero uses the backoff default
	MaxElapsed time.Duration
}

// Client is a radio.Transport that talks to a hub over WebSocket
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex
	hubID  string

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	scanMu  sync.Mutex
	scan    radio.ScanHandler
	pending []radio.SentFunc

	// State
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new hub client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the hub and performs the handshake, retrying with
// exponential backoff until it succeeds, ctx ends or retries run out
func (c *Client) Connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if c.config.MaxElapsed > 0 {
		b.MaxElapsedTime = c.config.MaxElapsed
	}

	notify := func(err error, next time.Duration) {
		log.Printf("Hub connection failed: %v (retrying in %v)", err, next)
	}

	if err := backoff.RetryNotify(c.connectOnce, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to connect to hub %s: %w", c.config.HubAddr, err)
	}
	return nil
}

func (c *Client) connectOnce() error {
	u := url.URL{Scheme: "ws", Host: c.config.HubAddr, Path: "/radio"}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()
		// backoff stops only on an unwrapped *PermanentError
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return backoff.Permanent(fmt.Errorf("handshake failed: %w", permanent.Err))
		}
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake performs the hello exchange
func (c *Client) handshake() error {
	hello := protocol.NodeHello{
		NodeID:  c.config.NodeID,
		Name:    c.config.Name,
		Version: protocol.ProtocolVersion,
	}

	if err := c.sendJSON(protocol.Message{Type: protocol.TypeNodeHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.TypeNodeHello, err)
	}

	// Wait for hub/hello (with timeout)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", protocol.TypeHubHello, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", protocol.TypeHubHello, err)
	}

	if msg.Type == protocol.TypeHubError {
		var hubErr protocol.HubError
		protocol.DecodePayload(msg.Payload, &hubErr)
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, hubErr.Message))
	}
	if msg.Type != protocol.TypeHubHello {
		return fmt.Errorf("expected %s, got %s", protocol.TypeHubHello, msg.Type)
	}

	var hubHello protocol.HubHello
	if err := protocol.DecodePayload(msg.Payload, &hubHello); err != nil {
		return err
	}

	c.mu.Lock()
	c.hubID = hubHello.HubID
	c.mu.Unlock()

	log.Printf("Handshake complete with hub %s (%s)", hubHello.Name, hubHello.HubID)
	return nil
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return radio.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// StartScan delivers relayed adverts to handler
func (c *Client) StartScan(handler radio.ScanHandler) error {
	if !c.IsConnected() {
		return radio.ErrClosed
	}

	c.scanMu.Lock()
	c.scan = handler
	c.scanMu.Unlock()
	return nil
}

// StopScan stops delivering adverts
func (c *Client) StopScan() error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	if c.scan == nil {
		return radio.ErrNotScanning
	}
	c.scan = nil
	return nil
}

// Advertise sends one advert through the hub. Only one advert may be in
// flight; sent fires when the hub acks it.
func (c *Client) Advertise(payload []byte, sent radio.SentFunc) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return radio.ErrClosed
	}

	c.scanMu.Lock()
	if len(c.pending) > 0 {
		c.scanMu.Unlock()
		return radio.ErrBusy
	}
	c.pending = append(c.pending, sent)
	c.scanMu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		c.scanMu.Lock()
		c.pending = nil
		c.scanMu.Unlock()
		return fmt.Errorf("advertise failed: %w", err)
	}
	return nil
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Printf("Read error: %v", err)
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			c.handleBinaryMessage(data)
		} else if messageType == websocket.TextMessage {
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage hands a relayed advert to the scanner
func (c *Client) handleBinaryMessage(data []byte) {
	rssi, payload, err := protocol.DecodeRelay(data)
	if err != nil {
		log.Printf("Invalid relay frame: %v", err)
		return
	}

	c.scanMu.Lock()
	handler := c.scan
	c.scanMu.Unlock()

	if handler != nil {
		handler(payload, rssi)
	}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeRadioSent:
		c.scanMu.Lock()
		var sent radio.SentFunc
		if len(c.pending) > 0 {
			sent = c.pending[0]
			c.pending = c.pending[1:]
		}
		c.scanMu.Unlock()

		if sent != nil {
			sent(1)
		}

	case protocol.TypeHubError:
		var hubErr protocol.HubError
		protocol.DecodePayload(msg.Payload, &hubErr)
		log.Printf("Hub error: %s: %s", hubErr.Error, hubErr.Message)

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// HubID returns the id of the connected hub
func (c *Client) HubID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hubID
}

// Close closes the connection. In-flight adverts complete with zero sent.
func (c *Client) Close() {
	c.mu.Lock()
	wasConnected := c.connected
	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.scanMu.Lock()
	pending := c.pending
	c.pending = nil
	c.scan = nil
	c.scanMu.Unlock()

	for _, sent := range pending {
		if sent != nil {
			sent(0)
		}
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
