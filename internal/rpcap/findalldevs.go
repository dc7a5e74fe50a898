package rpcap

import (
	"encoding/binary"
	"net"
)

// Interface flags in a findalldevs entry.
const (
	IfLoopback uint32 = 1
	IfUp       uint32 = 2
	IfRunning  uint32 = 4
)

// Device is one entry of the interface list reply.
type Device struct {
	Name  string
	Desc  string
	Flags uint32
}

// Devices lists the host's interfaces.
func Devices() ([]Device, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(ifs))
	for _, ifc := range ifs {
		var flags uint32
		if ifc.Flags&net.FlagLoopback != 0 {
			flags |= IfLoopback
		}
		if ifc.Flags&net.FlagUp != 0 {
			flags |= IfUp
		}
		if ifc.Flags&net.FlagRunning != 0 {
			flags |= IfRunning
		}
		out = append(out, Device{Name: ifc.Name, Flags: flags})
	}
	return out, nil
}

// encodeDevices builds the findalldevs reply payload. Addresses are not
// reported.
func encodeDevices(devs []Device) []byte {
	var b []byte
	for _, d := range devs {
		var e [12]byte
		binary.BigEndian.PutUint16(e[0:2], uint16(len(d.Name)))
		binary.BigEndian.PutUint16(e[2:4], uint16(len(d.Desc)))
		binary.BigEndian.PutUint32(e[4:8], d.Flags)
		b = append(b, e[:]...)
		b = append(b, d.Name...)
		b = append(b, d.Desc...)
	}
	return b
}
