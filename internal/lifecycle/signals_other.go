//go:build !unix && !windows

package lifecycle

import "os"

var watchedSignals = []os.Signal{os.Interrupt}

// EventForSignal maps an OS signal to its control event.
func EventForSignal(s os.Signal) (Event, bool) {
	if s == os.Interrupt {
		return EventInterrupt, true
	}
	return 0, false
}
