// ABOUTME: Tests for radio hub message types
// ABOUTME: Verifies JSON envelopes and relay frames
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestNodeHelloEnvelope(t *testing.T) {
	msg := Message{
		Type:    TypeNodeHello,
		Payload: NodeHello{NodeID: "n-1", Name: "kitchen", Version: ProtocolVersion},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeNodeHello {
		t.Errorf("expected type %s, got %s", TypeNodeHello, decoded.Type)
	}

	var hello NodeHello
	if err := DecodePayload(decoded.Payload, &hello); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if hello.NodeID != "n-1" || hello.Name != "kitchen" {
		t.Errorf("unexpected hello %+v", hello)
	}
}

func TestRelayFrame(t *testing.T) {
	payload := []byte{2, 1, 6, 13, 0xFF}
	frame := EncodeRelay(-72, payload)

	rssi, got, err := DecodeRelay(frame)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if rssi != -72 {
		t.Errorf("expected rssi -72, got %d", rssi)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected % x, got % x", payload, got)
	}

	if _, _, err := DecodeRelay([]byte{0x10}); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}
