package dispatch

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/matst80/rpcapd/internal/hostauth"
	"github.com/matst80/rpcapd/internal/rpcap"
	"github.com/matst80/rpcapd/internal/session"
)

type fakeResolver map[string]string

func (f fakeResolver) LookupNetIP(_ context.Context, host string) ([]netip.Addr, error) {
	a, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(a)}, nil
}

// remoteConn overrides the peer address of a pipe end.
type remoteConn struct {
	net.Conn
	remote net.Addr
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.remote }

// chanListener hands out queued connections.
type chanListener struct {
	conns chan net.Conn
	errs  chan error
	once  sync.Once
	done  chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{conns: make(chan net.Conn), errs: make(chan error, 4), done: make(chan struct{})}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case err := <-l.errs:
		return nil, err
	default:
	}
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errs:
		return nil, err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2002}
}

// connect queues a connection from peer and returns the client end.
func (l *chanListener) connect(t *testing.T, peer string) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	ap := netip.MustParseAddrPort(peer)
	select {
	case l.conns <- &remoteConn{Conn: a, remote: net.TCPAddrFromAddrPort(ap)}:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not accept")
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// recorder is a session service that reports every session it serves.
type recorder struct {
	mu       sync.Mutex
	sessions []session.Params
	started  chan *session.Params
	serve    func(ctx context.Context, p *session.Params)
}

func newRecorder() *recorder { return &recorder{started: make(chan *session.Params, 16)} }

func (r *recorder) Serve(ctx context.Context, p *session.Params) {
	r.mu.Lock()
	r.sessions = append(r.sessions, *p)
	r.mu.Unlock()
	r.started <- p
	if r.serve != nil {
		r.serve(ctx, p)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func testDeps(t *testing.T, svc session.Service, res hostauth.Resolver, hosts string) Deps {
	t.Helper()
	sp := session.NewTaskSpawner(svc, 0)
	t.Cleanup(sp.Close)
	return Deps{
		Policy:     NewPolicyStore(&Policy{Hosts: hostauth.Parse(hosts), NullAuthAllowed: true}),
		Authorizer: hostauth.NewAuthorizer(res),
		Spawner:    sp,
		Protocol:   rpcap.NewService(),
	}
}

func readReject(t *testing.T, c net.Conn) rpcap.Header {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	h, err := rpcap.ReadHeader(c)
	if err != nil {
		t.Fatalf("read reject frame: %v", err)
	}
	if _, err := rpcap.ReadPayload(c, h); err != nil {
		t.Fatalf("read reject payload: %v", err)
	}
	return h
}

func parseList(s string) *hostauth.AllowList { return hostauth.Parse(s) }

func itoa(n int) string { return strconv.Itoa(n) }
