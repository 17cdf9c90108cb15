// ABOUTME: Mesh sync wire protocol package
// ABOUTME: Defines the sync message codec and advertisement framing
// Package protocol implements the mesh sync wire format.
//
// Every sync slot travels as the manufacturer-specific data of one
// broadcast advertisement:
//
//	[manufacturer id u16 LE][round u8][slot u8][ticks u64 LE]
//
// Example:
//
//	payload := protocol.Encode(protocol.DefaultManufacturerID, protocol.Message{RoundID: 3, Slot: 5, Ticks: 123456789})
//	msg, err := protocol.Decode(protocol.DefaultManufacturerID, payload)
package protocol
