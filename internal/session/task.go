package session

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/matst80/rpcapd/internal/obs"
)

// TaskSpawner runs every session on its own goroutine. A panicking session
// is recovered and logged; it never affects its siblings.
type TaskSpawner struct {
	svc Service
	max int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	live   map[*doneHandle]net.Conn
	wg     sync.WaitGroup
}

var _ Spawner = (*TaskSpawner)(nil)

func NewTaskSpawner(svc Service, maxSessions int) *TaskSpawner {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskSpawner{
		svc:    svc,
		max:    maxSessions,
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[*doneHandle]net.Conn),
	}
}

func (s *TaskSpawner) Spawn(p *Params) (Handle, error) {
	h := newDoneHandle()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.max > 0 && len(s.live) >= s.max {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s.live[h] = p.Conn
	s.wg.Add(1)
	s.mu.Unlock()

	mode := obs.ModeLabel(p.Active)
	obs.SessionsTotal.WithLabelValues(mode).Inc()
	obs.SessionsActive.WithLabelValues(mode).Inc()
	go s.run(h, p, mode)
	return h, nil
}

func (s *TaskSpawner) run(h *doneHandle, p *Params, mode string) {
	start := time.Now()
	var res Result
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("session panic: %v", r)
			obs.Error("session.panic", obs.Fields{"peer": p.Peer, "panic": fmt.Sprint(r), "stack": string(debug.Stack())})
			obs.ErrorsTotal.WithLabelValues("session_panic").Inc()
		}
		_ = p.Conn.Close()
		s.mu.Lock()
		delete(s.live, h)
		s.mu.Unlock()
		obs.SessionsActive.WithLabelValues(mode).Dec()
		obs.SessionDurationSeconds.Observe(time.Since(start).Seconds())
		obs.Debug("session.end", obs.Fields{"peer": p.Peer, "mode": mode, "explicit_close": res.ExplicitClose})
		h.finish(res)
		s.wg.Done()
	}()
	obs.Debug("session.start", obs.Fields{"peer": p.Peer, "mode": mode})
	s.svc.Serve(s.ctx, p)
	res.ExplicitClose = p.Active && p.ExplicitClose
}

func (s *TaskSpawner) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close cancels the context handed to every session and closes their sockets
// so blocked reads return.
func (s *TaskSpawner) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.live))
	for _, c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *TaskSpawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
