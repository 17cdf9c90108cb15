// ABOUTME: Tests for the radio hub
// ABOUTME: Drives raw WebSocket nodes against the hub under httptest
package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/protocol"
	"github.com/gorilla/websocket"
)

func newHub(t *testing.T, config Config) (*Server, string) {
	t.Helper()
	s := New(config)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + RadioPath
}

func dialNode(t *testing.T, url, id string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := protocol.Message{Type: protocol.TypeNodeHello, Payload: protocol.NodeHello{NodeID: id, Name: "node-" + id}}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}

	msg := readJSON(t, conn)
	if msg.Type != protocol.TypeHubHello {
		t.Fatalf("expected %s, got %s", protocol.TypeHubHello, msg.Type)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text message, got %d", kind)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Clients()) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, len(s.Clients()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRelaysToOtherNodes(t *testing.T) {
	s, url := newHub(t, Config{Name: "hub", RSSI: -70})

	a := dialNode(t, url, "a")
	b := dialNode(t, url, "b")
	c := dialNode(t, url, "c")
	waitForClients(t, s, 3)

	if err := a.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("failed to advertise: %v", err)
	}

	for _, conn := range []*websocket.Conn{b, c} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if kind != websocket.BinaryMessage {
			t.Fatalf("expected binary relay, got %d", kind)
		}
		rssi, payload, err := protocol.DecodeRelay(data)
		if err != nil || rssi != -70 || string(payload) != "\x01\x02\x03" {
			t.Errorf("unexpected relay rssi=%d payload=% x err=%v", rssi, payload, err)
		}
	}

	ack := readJSON(t, a)
	if ack.Type != protocol.TypeRadioSent {
		t.Fatalf("expected %s, got %s", protocol.TypeRadioSent, ack.Type)
	}
	var sent protocol.RadioSent
	protocol.DecodePayload(ack.Payload, &sent)
	if sent.Count != 2 {
		t.Errorf("expected relay count 2, got %d", sent.Count)
	}

	relayed, dropped := s.Counters()
	if relayed != 2 || dropped != 0 {
		t.Errorf("unexpected counters relayed=%d dropped=%d", relayed, dropped)
	}

	clients := s.Clients()
	if clients[0].Name != "node-a" || clients[0].Sent != 1 || clients[1].Received != 1 {
		t.Errorf("unexpected client stats %+v", clients)
	}
}

func TestHubDropRate(t *testing.T) {
	s, url := newHub(t, Config{Name: "hub", DropRate: 1})

	a := dialNode(t, url, "a")
	dialNode(t, url, "b")
	waitForClients(t, s, 2)

	a.WriteMessage(websocket.BinaryMessage, []byte{9})

	var sent protocol.RadioSent
	protocol.DecodePayload(readJSON(t, a).Payload, &sent)
	if sent.Count != 0 {
		t.Errorf("expected everything dropped, got count %d", sent.Count)
	}
	if _, dropped := s.Counters(); dropped != 1 {
		t.Errorf("expected 1 drop, got %d", dropped)
	}
}

func TestHubRejectsDuplicateNode(t *testing.T) {
	s, url := newHub(t, Config{Name: "hub"})
	dialNode(t, url, "a")
	waitForClients(t, s, 1)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteJSON(protocol.Message{Type: protocol.TypeNodeHello, Payload: protocol.NodeHello{NodeID: "a", Name: "again"}})
	if msg := readJSON(t, conn); msg.Type != protocol.TypeHubError {
		t.Errorf("expected %s, got %s", protocol.TypeHubError, msg.Type)
	}
	if len(s.Clients()) != 1 {
		t.Errorf("expected 1 client, got %d", len(s.Clients()))
	}
}

func TestHubRequiresHello(t *testing.T) {
	_, url := newHub(t, Config{Name: "hub"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteJSON(protocol.Message{Type: "node/bogus"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected hub to close the connection")
	}
}

func TestClientLeaves(t *testing.T) {
	s, url := newHub(t, Config{Name: "hub"})
	a := dialNode(t, url, "a")
	waitForClients(t, s, 1)

	a.Close()
	waitForClients(t, s, 0)
}
