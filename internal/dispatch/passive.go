package dispatch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/matst80/rpcapd/internal/hostauth"
	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/ratelimit"
	"github.com/matst80/rpcapd/internal/session"
	"github.com/thejerf/suture/v4"
)

const (
	authTimeout   = 5 * time.Second
	rejectTimeout = 5 * time.Second

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Deps are the collaborators shared by every loop.
type Deps struct {
	Policy     *PolicyStore
	Authorizer *hostauth.Authorizer
	Spawner    session.Spawner
	Protocol   session.Protocol
	// Limiter is optional.
	Limiter *ratelimit.AcceptLimiter
	// Registry is optional; a listener leaves it when its loop ends.
	Registry *Registry
}

// Listener is the accept loop for one bound socket.
type Listener struct {
	ln    net.Listener
	name  string
	deps  Deps
	after func(time.Duration) <-chan time.Time
}

var _ suture.Service = (*Listener)(nil)

func NewListener(ln net.Listener, deps Deps) *Listener {
	return &Listener{ln: ln, name: ln.Addr().String(), deps: deps, after: time.After}
}

func (l *Listener) String() string { return "listener " + l.name }

// Serve accepts until the socket is closed or ctx ends. A failed accept is
// logged and retried after a short, growing delay.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	defer l.deps.Registry.Remove(l.ln)

	obs.Info("listener.start", obs.Fields{"addr": l.name})
	var delay time.Duration
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				obs.Info("listener.closed", obs.Fields{"addr": l.name})
				return suture.ErrDoNotRestart
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			obs.Error("accept.error", obs.Fields{"addr": l.name, "err": err.Error(), "retry_in": delay.String()})
			obs.AcceptErrors.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.after(delay):
			}
			continue
		}
		delay = 0
		obs.ConnectionsAccepted.WithLabelValues(l.name).Inc()
		l.dispatch(ctx, c)
	}
}

// dispatch authorizes c against one policy snapshot and hands it to a worker.
func (l *Listener) dispatch(ctx context.Context, c net.Conn) {
	peer := c.RemoteAddr()
	pol := l.deps.Policy.Load()

	if !l.deps.Limiter.Allow(peerHost(peer)) {
		obs.Info("accept.rate_limited", obs.Fields{"peer": peer.String()})
		reject(c, l.deps.Protocol, session.RejectRateLimited, "Too many connection attempts from this host")
		return
	}

	actx, cancel := context.WithTimeout(ctx, authTimeout)
	err := l.deps.Authorizer.Authorize(actx, pol.Hosts, peer)
	cancel()
	if err != nil {
		obs.Info("host.denied", obs.Fields{"peer": peer.String(), "listener": l.name})
		reject(c, l.deps.Protocol, session.RejectHostNotAllowed, "Host "+peerHost(peer)+" is not allowed to connect to this server")
		return
	}

	p := &session.Params{Conn: c, Active: false, NullAuthAllowed: pol.NullAuthAllowed, Peer: peer.String()}
	if _, err := l.deps.Spawner.Spawn(p); err != nil {
		if errors.Is(err, session.ErrClosed) {
			obs.Debug("session.spawn.closed", obs.Fields{"peer": peer.String()})
			_ = c.Close()
			return
		}
		obs.Error("session.spawn", obs.Fields{"peer": peer.String(), "err": err.Error()})
		obs.SpawnErrors.Inc()
		reject(c, l.deps.Protocol, session.RejectSpawnFailed, "Cannot start a session: "+err.Error())
		return
	}
	obs.Debug("session.dispatched", obs.Fields{"peer": peer.String(), "listener": l.name})
}

// reject writes the protocol error reply for reason and closes c.
func reject(c net.Conn, proto session.Protocol, reason session.RejectReason, msg string) {
	obs.ConnectionsRejected.WithLabelValues(reason.String()).Inc()
	_ = c.SetWriteDeadline(time.Now().Add(rejectTimeout))
	if _, err := c.Write(proto.ErrorFrame(reason, msg)); err != nil {
		obs.Debug("reject.write", obs.Fields{"peer": c.RemoteAddr().String(), "err": err.Error()})
	}
	_ = c.Close()
}

func peerHost(a net.Addr) string {
	if a == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}
