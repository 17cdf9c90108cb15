// ABOUTME: Sync message codec
// ABOUTME: Encodes and decodes the fixed-size slot message
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultManufacturerID tags sync payloads inside manufacturer data
	DefaultManufacturerID uint16 = 0x1234

	// MessageSize is the encoded message without the manufacturer id
	MessageSize = 1 + 1 + 8

	// PayloadSize is the full manufacturer data payload
	PayloadSize = 2 + MessageSize
)

var (
	ErrMalformedMessage  = errors.New("malformed sync message")
	ErrWrongManufacturer = errors.New("manufacturer id mismatch")
)

// Message is one sync slot. Slot 0 is the round beacon and carries no
// timestamp; slot i carries the sender's transmit tick of slot i-1.
type Message struct {
	RoundID uint8
	Slot    uint8
	Ticks   uint64
}

func (m Message) String() string {
	return fmt.Sprintf("round=%d slot=%d ticks=%d", m.RoundID, m.Slot, m.Ticks)
}

// Encode builds the manufacturer data payload for m
func Encode(manufacturerID uint16, m Message) []byte {
	buf := make([]byte, PayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], manufacturerID)
	buf[2] = m.RoundID
	buf[3] = m.Slot
	binary.LittleEndian.PutUint64(buf[4:12], m.Ticks)
	return buf
}

// Decode parses a manufacturer data payload. Length and manufacturer id are
// the only structural checks.
func Decode(manufacturerID uint16, payload []byte) (Message, error) {
	if len(payload) != PayloadSize {
		return Message{}, fmt.Errorf("%w: length %d, expected %d", ErrMalformedMessage, len(payload), PayloadSize)
	}

	if id := binary.LittleEndian.Uint16(payload[0:2]); id != manufacturerID {
		return Message{}, fmt.Errorf("%w: got %#04x", ErrWrongManufacturer, id)
	}

	return Message{
		RoundID: payload[2],
		Slot:    payload[3],
		Ticks:   binary.LittleEndian.Uint64(payload[4:12]),
	}, nil
}
