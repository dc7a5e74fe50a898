//go:build windows

package dispatch

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func control(network, _ string, c syscall.RawConn) error {
	if network != "tcp6" {
		return nil
	}
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
