package rpcap

import (
	"encoding/binary"
	"errors"
)

const (
	AuthNull     uint16 = 0
	AuthPassword uint16 = 1

	byteOrderMagic uint32 = 0xa1b2c3d4
)

// AuthRequest is the payload of MsgAuth.
type AuthRequest struct {
	Type     uint16
	Username string
	Password string
}

var errShortAuth = errors.New("rpcap: short authentication request")

func ParseAuth(b []byte) (AuthRequest, error) {
	if len(b) < 8 {
		return AuthRequest{}, errShortAuth
	}
	a := AuthRequest{Type: binary.BigEndian.Uint16(b[0:2])}
	l1 := int(binary.BigEndian.Uint16(b[4:6]))
	l2 := int(binary.BigEndian.Uint16(b[6:8]))
	rest := b[8:]
	if len(rest) < l1+l2 {
		return AuthRequest{}, errShortAuth
	}
	a.Username = string(rest[:l1])
	a.Password = string(rest[l1 : l1+l2])
	return a, nil
}

// authReply advertises the supported protocol versions.
func authReply() []byte {
	b := make([]byte, 8)
	b[0] = Version
	b[1] = Version
	binary.BigEndian.PutUint32(b[4:8], byteOrderMagic)
	return b
}
