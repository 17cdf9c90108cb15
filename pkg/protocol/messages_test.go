// ABOUTME: Tests for the sync wire protocol
// ABOUTME: Verifies message layout, decode validation and advertisement framing
package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	msg := Message{RoundID: 3, Slot: 5, Ticks: 123456789}

	payload := Encode(DefaultManufacturerID, msg)
	if len(payload) != PayloadSize {
		t.Fatalf("expected %d bytes, got %d", PayloadSize, len(payload))
	}

	decoded, err := Decode(DefaultManufacturerID, payload)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded != msg {
		t.Errorf("expected %v, got %v", msg, decoded)
	}
}

func TestEncodeLayout(t *testing.T) {
	payload := Encode(0x1234, Message{RoundID: 0xAB, Slot: 0x02, Ticks: 0x0102030405060708})

	want := []byte{0x34, 0x12, 0xAB, 0x02, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(payload, want) {
		t.Errorf("expected % x, got % x", want, payload)
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	payload := Encode(DefaultManufacturerID, Message{RoundID: 1})

	for _, n := range []int{0, 1, PayloadSize - 1, PayloadSize + 1} {
		buf := make([]byte, n)
		copy(buf, payload)
		if _, err := Decode(DefaultManufacturerID, buf); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("length %d: expected ErrMalformedMessage, got %v", n, err)
		}
	}
}

func TestDecodeRejectsManufacturer(t *testing.T) {
	payload := Encode(0x4321, Message{RoundID: 1})
	if _, err := Decode(DefaultManufacturerID, payload); !errors.Is(err, ErrWrongManufacturer) {
		t.Errorf("expected ErrWrongManufacturer, got %v", err)
	}
}

func TestAdvertisementRoundTrip(t *testing.T) {
	msg := Message{RoundID: 200, Slot: 20, Ticks: 55_000_000_000_000}
	ad := EncodeAdvertisement(DefaultManufacturerID, msg)

	if ad[0] != 2 || ad[1] != ADTypeFlags || ad[2] != ADFlags {
		t.Errorf("expected leading flags element, got % x", ad[:3])
	}
	if ad[3] != PayloadSize+1 || ad[4] != ADTypeManufacturerData {
		t.Errorf("unexpected manufacturer element header % x", ad[3:5])
	}

	decoded, err := DecodeAdvertisement(DefaultManufacturerID, ad)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded != msg {
		t.Errorf("expected %v, got %v", msg, decoded)
	}
}

func TestManufacturerDataErrors(t *testing.T) {
	tests := []struct {
		name string
		ad   []byte
		want error
	}{
		{"empty", nil, ErrNoManufacturerData},
		{"flags only", []byte{2, ADTypeFlags, ADFlags}, ErrNoManufacturerData},
		{"truncated", []byte{2, ADTypeFlags, ADFlags, 9, ADTypeManufacturerData, 1}, ErrTruncatedAdvertisement},
		{"zero terminator", []byte{0, 3, ADTypeManufacturerData, 1, 2}, ErrNoManufacturerData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ManufacturerData(tt.ad); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
