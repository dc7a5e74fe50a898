// Package lifecycle starts the dispatch loops, parks until a control event
// arrives, and tears everything down on termination.
package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/dispatch"
	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/session"
	"github.com/thejerf/suture/v4"
)

// ErrNothingToServe is returned when passive mode bound no endpoint and no
// active target is configured.
var ErrNothingToServe = errors.New("no listening endpoint bound and no active targets configured")

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReapInterval    = 5 * time.Second
	DefaultReloadTimeout   = 30 * time.Second

	limiterIdle = 10 * time.Minute
)

// Reloader builds a fresh policy from external configuration.
type Reloader interface {
	Reload(ctx context.Context) (*dispatch.Policy, error)
}

// ReloadFunc adapts a function to Reloader.
type ReloadFunc func(ctx context.Context) (*dispatch.Policy, error)

func (f ReloadFunc) Reload(ctx context.Context) (*dispatch.Policy, error) { return f(ctx) }

// Options wire a Controller.
type Options struct {
	Passive  bool
	Bind     dispatch.BindSpec
	Targets  []config.ActiveTarget
	Backoff  time.Duration
	Deps     dispatch.Deps
	Registry *dispatch.Registry
	Reloader Reloader
	// Listen overrides how endpoints are bound.
	Listen          dispatch.ListenFunc
	ShutdownTimeout time.Duration
	ReapInterval    time.Duration
	// ReloadTimeout bounds one Reloader call.
	ReloadTimeout time.Duration
}

// Controller owns the daemon's lifecycle.
//
// Each event kind has its own one-slot mailbox, so repeated reload or
// child-exited requests collapse into one and never crowd out a terminate.
type Controller struct {
	opts   Options
	stop   chan Event
	reload chan struct{}
	reapCh chan struct{}
	state  atomic.Int32
}

func New(opts Options) *Controller {
	if opts.Registry == nil {
		opts.Registry = dispatch.NewRegistry()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}
	if opts.Deps.Registry == nil {
		opts.Deps.Registry = opts.Registry
	}
	return &Controller{
		opts:   opts,
		stop:   make(chan Event, 1),
		reload: make(chan struct{}, 1),
		reapCh: make(chan struct{}, 1),
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	obs.Info("daemon.state", obs.Fields{"state": s.String()})
}

// Registry returns the set of open listening sockets.
func (c *Controller) Registry() *dispatch.Registry { return c.opts.Registry }

// Post delivers ev without blocking. An event of a kind that is already
// pending merges with it; the first terminate or interrupt wins.
func (c *Controller) Post(ev Event) {
	obs.Debug("control.event", obs.Fields{"event": ev.String()})
	switch ev {
	case EventTerminate, EventInterrupt:
		select {
		case c.stop <- ev:
		default:
		}
	case EventReload:
		pend(c.reload)
	case EventChildExited:
		pend(c.reapCh)
	default:
		obs.Error("control.event.unknown", obs.Fields{"event": ev.String()})
	}
}

func pend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run starts every loop and blocks until a terminate or interrupt event, or
// until ctx ends. It returns nil after a graceful shutdown.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateStarting)
	sup := suture.New("rpcapd", suture.Spec{
		EventHook: func(e suture.Event) {
			obs.Info("supervisor.event", obs.Fields{"event": e.String()})
		},
		Timeout: c.opts.ShutdownTimeout,
	})

	for _, t := range c.opts.Targets {
		sup.Add(dispatch.NewConnector(t, c.opts.Bind.IPv4Only, c.opts.Backoff, c.opts.Deps))
	}

	if c.opts.Passive {
		bound := c.startListeners(ctx, sup)
		if bound == 0 {
			if len(c.opts.Targets) == 0 {
				obs.Error("daemon.start", obs.Fields{"err": ErrNothingToServe.Error()})
				c.opts.Deps.Spawner.Close()
				c.opts.Registry.CloseAll()
				return ErrNothingToServe
			}
			obs.Error("listen.none", obs.Fields{"active_targets": len(c.opts.Targets)})
		}
	}

	supCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := sup.ServeBackground(supCtx)
	c.setState(StateRunning)
	obs.Info("daemon.running", obs.Fields{"listeners": c.opts.Registry.Len(), "active_targets": len(c.opts.Targets)})

	reap := time.NewTicker(c.opts.ReapInterval)
	defer reap.Stop()
	// reloading is non-nil while a reload runs; further requests wait in
	// their mailbox until it finishes.
	var reloading chan struct{}
	for {
		reloadReq := c.reload
		if reloading != nil {
			reloadReq = nil
		}
		select {
		case <-ctx.Done():
			return c.shutdown(cancel, errc, reloading, "context")
		case err := <-errc:
			obs.Error("supervisor.stopped", obs.Fields{"err": errString(err)})
			return c.shutdown(cancel, nil, reloading, "supervisor")
		case ev := <-c.stop:
			return c.shutdown(cancel, errc, reloading, ev.String())
		case <-reloadReq:
			reloading = c.startReload(supCtx)
		case <-reloading:
			reloading = nil
		case <-c.reapCh:
			c.reap()
		case <-reap.C:
			c.reap()
			c.opts.Deps.Limiter.Sweep(limiterIdle)
		}
	}
}

func (c *Controller) startListeners(ctx context.Context, sup *suture.Supervisor) int {
	eps, err := dispatch.ResolveBind(ctx, c.opts.Bind)
	if err != nil {
		obs.Error("listen.resolve", obs.Fields{"address": c.opts.Bind.Address, "port": c.opts.Bind.Port, "err": err.Error()})
		return 0
	}
	lns := dispatch.Bind(ctx, eps, c.opts.Registry, c.opts.Listen)
	for _, ln := range lns {
		sup.Add(dispatch.NewListener(ln, c.opts.Deps))
	}
	return len(lns)
}

// shutdown stops new work first, then waits a bounded time for loops and
// sessions to unwind.
func (c *Controller) shutdown(cancel context.CancelFunc, errc <-chan error, reloading <-chan struct{}, reason string) error {
	c.setState(StateTerminating)
	obs.Info("daemon.shutdown", obs.Fields{"reason": reason})

	c.opts.Deps.Spawner.Close()
	closed := c.opts.Registry.CloseAll()
	cancel()

	ctx, done := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer done()
	if errc != nil {
		select {
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				obs.Error("supervisor.stop", obs.Fields{"err": err.Error()})
			}
		case <-ctx.Done():
			obs.Error("supervisor.stop", obs.Fields{"err": "timeout"})
		}
	}
	if reloading != nil {
		select {
		case <-reloading:
		case <-ctx.Done():
			obs.Error("reload.stop", obs.Fields{"err": "timeout"})
		}
	}
	if err := c.opts.Deps.Spawner.Wait(ctx); err != nil {
		obs.Error("sessions.stop", obs.Fields{"err": err.Error(), "remaining": c.opts.Deps.Spawner.Active()})
	}
	obs.Info("daemon.stopped", obs.Fields{"listeners_closed": closed})
	return nil
}

// startReload runs one reload off the event loop and closes the returned
// channel when it is done.
func (c *Controller) startReload(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(ctx, c.opts.ReloadTimeout)
		defer cancel()
		c.doReload(ctx)
	}()
	return done
}

func (c *Controller) doReload(ctx context.Context) {
	if c.opts.Reloader == nil {
		obs.Info("reload.skipped", obs.Fields{})
		return
	}
	pol, err := c.opts.Reloader.Reload(ctx)
	if err != nil {
		obs.Error("reload.failed", obs.Fields{"err": err.Error()})
		obs.Reloads.WithLabelValues("error").Inc()
		return
	}
	c.opts.Deps.Policy.Store(pol)
	obs.Reloads.WithLabelValues("ok").Inc()
	obs.Info("reload.ok", obs.Fields{"hosts": pol.Hosts.Len(), "null_auth": pol.NullAuthAllowed})
}

func (c *Controller) reap() {
	r, ok := c.opts.Deps.Spawner.(session.Reaper)
	if !ok {
		return
	}
	if n := r.Reap(); n > 0 {
		obs.Debug("session.reaped", obs.Fields{"count": n})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
