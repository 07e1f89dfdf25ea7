// Package wire implements the authenticated UDP datagram framing used
// between stage devices and the relay.
package wire

import (
	"encoding/binary"
	"errors"
)

// SDID identifies a stage device slot in the participant registry.
type SDID = uint8

const (
	// MaxStageID is the exclusive upper bound for stage device ids.
	MaxStageID = 255
	// ServerSDID is reserved for the server itself and never assigned to a client.
	ServerSDID SDID = 0
)

// Port is the destination port field of a frame. Values <= MaxSpecialPort are
// routed to a control handler; anything larger is opaque media/data.
type Port = uint16

const (
	HeaderSize = 4 + 1 + 2 + 2 + 4
	// BufSize bounds a single UDP datagram, header included.
	BufSize = 1500
)

var (
	ErrPayloadTooLarge = errors.New("wire: payload exceeds buffer size")
	ErrShortDatagram   = errors.New("wire: datagram shorter than header")
	ErrAuthMismatch    = errors.New("wire: secret mismatch")
)

// Frame is a decoded datagram.
type Frame struct {
	SDID    SDID
	Port    Port
	Flags   uint16
	Seq     uint32
	Payload []byte
}

// Encode packs a frame into a single datagram using the given secret.
func Encode(secret uint32, sdid SDID, port Port, flags uint16, seq uint32, payload []byte) ([]byte, error) {
	if len(payload) > BufSize-HeaderSize {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], secret)
	b[4] = sdid
	binary.LittleEndian.PutUint16(b[5:7], port)
	binary.LittleEndian.PutUint16(b[7:9], flags)
	binary.LittleEndian.PutUint32(b[9:13], seq)
	copy(b[HeaderSize:], payload)
	return b, nil
}

// Decode unpacks a datagram, verifying its secret field against currentSecret.
// The returned Frame's Payload aliases b; callers that retain it across the
// next recv must copy it.
func Decode(b []byte, currentSecret uint32) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, ErrShortDatagram
	}
	secret := binary.LittleEndian.Uint32(b[0:4])
	if secret != currentSecret {
		return Frame{}, ErrAuthMismatch
	}
	return Frame{
		SDID:    b[4],
		Port:    binary.LittleEndian.Uint16(b[5:7]),
		Flags:   binary.LittleEndian.Uint16(b[7:9]),
		Seq:     binary.LittleEndian.Uint32(b[9:13]),
		Payload: b[HeaderSize:],
	}, nil
}
