package dispatch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/session"
	"github.com/thejerf/suture/v4"
)

const dialTimeout = 20 * time.Second

// Connector dials one active target, serves one session at a time over the
// connection, and reconnects until the peer asks for an explicit close.
type Connector struct {
	target   config.ActiveTarget
	ipv4Only bool
	backoff  time.Duration
	deps     Deps

	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	after func(time.Duration) <-chan time.Time
}

var _ suture.Service = (*Connector)(nil)

func NewConnector(t config.ActiveTarget, ipv4Only bool, backoff time.Duration, deps Deps) *Connector {
	if backoff <= 0 {
		backoff = config.DefaultActiveBackoff
	}
	d := &net.Dialer{Timeout: dialTimeout}
	return &Connector{target: t, ipv4Only: ipv4Only, backoff: backoff, deps: deps, dial: d.DialContext, after: time.After}
}

func (c *Connector) String() string { return "active " + c.target.String() }

// Serve returns suture.ErrDoNotRestart once the target is done for good.
func (c *Connector) Serve(ctx context.Context) error {
	network := "tcp"
	if c.ipv4Only {
		network = "tcp4"
	}
	addr := net.JoinHostPort(c.target.Host, c.target.Port)
	obs.Info("active.start", obs.Fields{"target": addr, "backoff": c.backoff.String()})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.dial(ctx, network, addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			obs.Error("active.connect.failed", obs.Fields{"target": addr, "err": err.Error(), "retry_in": c.backoff.String()})
			obs.ActiveConnectFailures.WithLabelValues(addr).Inc()
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}

		pol := c.deps.Policy.Load()
		p := &session.Params{Conn: conn, Active: true, NullAuthAllowed: pol.NullAuthAllowed, Peer: addr}
		h, err := c.deps.Spawner.Spawn(p)
		if err != nil {
			if errors.Is(err, session.ErrClosed) {
				_ = conn.Close()
				return suture.ErrDoNotRestart
			}
			obs.Error("session.spawn", obs.Fields{"target": addr, "err": err.Error()})
			obs.SpawnErrors.Inc()
			reject(conn, c.deps.Protocol, session.RejectSpawnFailed, "Cannot start a session: "+err.Error())
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}
		obs.Info("active.session.start", obs.Fields{"target": addr})

		var res session.Result
		select {
		case <-h.Done():
			res = h.Wait()
		case <-ctx.Done():
			return ctx.Err()
		}
		obs.Info("active.session.end", obs.Fields{"target": addr, "explicit_close": res.ExplicitClose})
		if res.ExplicitClose && !c.target.KeepAfterClose {
			obs.Info("active.stop", obs.Fields{"target": addr})
			return suture.ErrDoNotRestart
		}
	}
}

func (c *Connector) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.after(c.backoff):
		return nil
	}
}
