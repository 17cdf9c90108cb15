// ABOUTME: Advertising data framing
// ABOUTME: Wraps sync payloads in length-type-value advertisement elements
package protocol

import (
	"errors"
	"fmt"
)

// Advertisement element types
const (
	ADTypeFlags            = 0x01
	ADTypeManufacturerData = 0xFF
)

// ADFlags marks a LE general discoverable, BR/EDR unsupported advertiser
const ADFlags = 0x02 | 0x04

var (
	ErrTruncatedAdvertisement = errors.New("truncated advertisement element")
	ErrNoManufacturerData     = errors.New("no manufacturer data in advertisement")
)

// MarshalAdvertisement frames a manufacturer data payload as advertising
// data: a flags element followed by a manufacturer element
func MarshalAdvertisement(payload []byte) []byte {
	ad := make([]byte, 0, 3+2+len(payload))
	ad = append(ad, 2, ADTypeFlags, ADFlags)
	ad = append(ad, byte(1+len(payload)), ADTypeManufacturerData)
	return append(ad, payload...)
}

// ManufacturerData returns the payload of the first manufacturer element
func ManufacturerData(ad []byte) ([]byte, error) {
	for i := 0; i < len(ad); {
		length := int(ad[i])
		if length == 0 {
			// Zero length terminates the significant part
			break
		}
		if i+1+length > len(ad) {
			return nil, fmt.Errorf("%w at offset %d", ErrTruncatedAdvertisement, i)
		}
		if ad[i+1] == ADTypeManufacturerData {
			return ad[i+2 : i+1+length], nil
		}
		i += 1 + length
	}
	return nil, ErrNoManufacturerData
}

// EncodeAdvertisement encodes m and frames it for broadcast
func EncodeAdvertisement(manufacturerID uint16, m Message) []byte {
	return MarshalAdvertisement(Encode(manufacturerID, m))
}

// DecodeAdvertisement extracts and decodes a sync message from advertising data
func DecodeAdvertisement(manufacturerID uint16, ad []byte) (Message, error) {
	payload, err := ManufacturerData(ad)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return Decode(manufacturerID, payload)
}
