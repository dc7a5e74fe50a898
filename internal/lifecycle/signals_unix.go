//go:build unix

package lifecycle

import (
	"os"

	"golang.org/x/sys/unix"
)

var watchedSignals = []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGCHLD}

// EventForSignal maps an OS signal to its control event.
func EventForSignal(s os.Signal) (Event, bool) {
	switch s {
	case unix.SIGTERM:
		return EventTerminate, true
	case unix.SIGINT:
		return EventInterrupt, true
	case unix.SIGHUP:
		return EventReload, true
	case unix.SIGCHLD:
		return EventChildExited, true
	}
	return 0, false
}
