package lifecycle

import (
	"os"
	"os/signal"
)

const signalBuffer = 32

// NotifySignals forwards OS signals to c as control events until stop is
// called.
func NotifySignals(c *Controller) (stop func()) {
	ch := make(chan os.Signal, signalBuffer)
	signal.Notify(ch, watchedSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				if ev, ok := EventForSignal(s); ok {
					c.Post(ev)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
