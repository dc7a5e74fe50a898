// Package rpcap implements the control half of the RPCAP protocol: the
// authentication handshake, interface enumeration and session close. Capture
// requests are answered with protocol errors since this daemon carries no
// capture backend.
package rpcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Version    = 0
	HeaderSize = 8

	// maxPayload bounds what the daemon will read for a single message.
	maxPayload = 1 << 20
)

// Message types. A reply carries the request type with replyBit set.
const (
	MsgError       uint8 = 0x01
	MsgFindAllIf   uint8 = 0x02
	MsgOpen        uint8 = 0x03
	MsgStartCap    uint8 = 0x04
	MsgUpdateFilt  uint8 = 0x05
	MsgClose       uint8 = 0x06
	MsgPacket      uint8 = 0x07
	MsgAuth        uint8 = 0x08
	MsgStats       uint8 = 0x09
	MsgEndCap      uint8 = 0x0A
	MsgSetSampling uint8 = 0x0B

	replyBit uint8 = 0x80
)

// Reply returns the reply type for request type t.
func Reply(t uint8) uint8 { return t | replyBit }

// Error codes carried in the value field of an error message.
const (
	ErrNetwork        uint16 = 1
	ErrInitTimeout    uint16 = 2
	ErrAuth           uint16 = 3
	ErrFindAllIf      uint16 = 4
	ErrNoRemoteIf     uint16 = 5
	ErrOpen           uint16 = 6
	ErrUpdateFilter   uint16 = 7
	ErrGetStats       uint16 = 8
	ErrReadEx         uint16 = 9
	ErrHostNoAuth     uint16 = 10
	ErrRemoteAccept   uint16 = 11
	ErrStartCapture   uint16 = 12
	ErrEndCapture     uint16 = 13
	ErrRuntimeTimeout uint16 = 14
	ErrSetSampling    uint16 = 15
	ErrWrongMsg       uint16 = 16
	ErrWrongVer       uint16 = 17
)

// Header is the fixed prefix of every message, big endian on the wire.
type Header struct {
	Ver   uint8
	Type  uint8
	Value uint16
	PLen  uint32
}

var errPayloadTooLarge = errors.New("rpcap: payload too large")

func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize, HeaderSize+int(h.PLen))
	b[0] = h.Ver
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.Value)
	binary.BigEndian.PutUint32(b[4:8], h.PLen)
	return b
}

func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Ver:   b[0],
		Type:  b[1],
		Value: binary.BigEndian.Uint16(b[2:4]),
		PLen:  binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// ReadPayload reads the payload announced by h.
func ReadPayload(r io.Reader, h Header) ([]byte, error) {
	if h.PLen > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", errPayloadTooLarge, h.PLen)
	}
	b := make([]byte, h.PLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Frame encodes a complete message.
func Frame(typ uint8, value uint16, payload []byte) []byte {
	b := Header{Ver: Version, Type: typ, Value: value, PLen: uint32(len(payload))}.Marshal()
	return append(b, payload...)
}

// ErrorMessage encodes an error message with code and text.
func ErrorMessage(code uint16, msg string) []byte {
	return Frame(MsgError, code, []byte(msg))
}
