// ABOUTME: Radio hub message type definitions
// ABOUTME: Defines the JSON envelope and the binary relay frame between nodes and the hub
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the hub protocol version
const ProtocolVersion = 1

// Message types
const (
	TypeNodeHello = "node/hello"
	TypeHubHello  = "hub/hello"
	TypeRadioSent = "radio/sent"
	TypeHubError  = "hub/error"
)

var ErrShortFrame = errors.New("relay frame too short")

// Message is the top-level wrapper for all JSON hub messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NodeHello is sent by a node to join the hub
type NodeHello struct {
	NodeID  string `json:"node_id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// HubHello is the hub's response to node/hello
type HubHello struct {
	HubID   string `json:"hub_id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// RadioSent acknowledges one advertisement
type RadioSent struct {
	Count int `json:"count"` // Nodes the advert was relayed to
}

// HubError reports a rejected request
type HubError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DecodePayload re-decodes a generic payload into out
func DecodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// EncodeRelay builds a binary relay frame: [rssi int8][advertising data]
func EncodeRelay(rssi int8, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(rssi)
	copy(frame[1:], payload)
	return frame
}

// DecodeRelay splits a binary relay frame
func DecodeRelay(frame []byte) (int8, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, ErrShortFrame
	}
	return int8(frame[0]), frame[1:], nil
}
