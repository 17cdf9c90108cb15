// ABOUTME: Broadcast radio abstraction used by the sync engine
// ABOUTME: Defines the scan/advertise transport contract and its errors
package radio

import "errors"

var (
	ErrBusy        = errors.New("radio busy")
	ErrClosed      = errors.New("radio closed")
	ErrNotScanning = errors.New("radio not scanning")
)

// ScanHandler receives raw advertising data and its signal strength.
// It may run on a transport goroutine and must not block.
type ScanHandler func(payload []byte, rssi int8)

// SentFunc reports completion of one advertisement. numSent is the number
// of advertising events that went out, 0 on failure.
type SentFunc func(numSent int)

// Transport is a broadcast-only radio
type Transport interface {
	StartScan(handler ScanHandler) error
	StopScan() error
	Advertise(payload []byte, sent SentFunc) error
}
