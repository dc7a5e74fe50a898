//go:build windows

package lifecycle

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// EventForSignal maps an OS signal to its control event.
func EventForSignal(s os.Signal) (Event, bool) {
	switch s {
	case os.Interrupt:
		return EventInterrupt, true
	case syscall.SIGTERM:
		return EventTerminate, true
	}
	return 0, false
}
