//go:build unix

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/matst80/rpcapd/internal/obs"
	"golang.org/x/sys/unix"
)

// ProcessSpawner runs every session in a child process. The child gets the
// control socket as fd 3 and nothing else; listening sockets are
// close-on-exec. Children are harvested by Reap.
type ProcessSpawner struct {
	path string
	args []string
	env  []string
	max  int

	mu       sync.Mutex
	closed   bool
	children map[int]*child
}

type child struct {
	h     *doneHandle
	proc  *os.Process
	mode  string
	peer  string
	start time.Time
}

var (
	_ Spawner = (*ProcessSpawner)(nil)
	_ Reaper  = (*ProcessSpawner)(nil)
)

func NewProcessSpawner(opts Options) (*ProcessSpawner, error) {
	path := opts.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	return &ProcessSpawner{
		path:     path,
		args:     opts.Args,
		env:      opts.Env,
		max:      opts.MaxSessions,
		children: make(map[int]*child),
	}, nil
}

type filer interface {
	File() (*os.File, error)
}

func (s *ProcessSpawner) Spawn(p *Params) (Handle, error) {
	fc, ok := p.Conn.(filer)
	if !ok {
		return nil, fmt.Errorf("connection %T has no file descriptor", p.Conn)
	}
	f, err := fc.File()
	if err != nil {
		return nil, fmt.Errorf("dup control socket: %w", err)
	}
	defer f.Close()

	argv := append(append([]string{}, s.args...), ChildArgs{Active: p.Active, NullAuth: p.NullAuthAllowed, Peer: p.Peer}.argv()...)
	cmd := exec.Command(s.path, argv...)
	cmd.ExtraFiles = []*os.File{f}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if s.env != nil {
		cmd.Env = append(os.Environ(), s.env...)
	}

	// Held across Start and the map insert so Reap never sees an unknown pid.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.max > 0 && len(s.children) >= s.max {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("start session process: %w", err)
	}
	c := &child{h: newDoneHandle(), proc: cmd.Process, mode: obs.ModeLabel(p.Active), peer: p.Peer, start: time.Now()}
	s.children[cmd.Process.Pid] = c
	s.mu.Unlock()

	// The child owns the socket now.
	_ = p.Conn.Close()
	obs.SessionsTotal.WithLabelValues(c.mode).Inc()
	obs.SessionsActive.WithLabelValues(c.mode).Inc()
	obs.Debug("session.start", obs.Fields{"peer": p.Peer, "mode": c.mode, "pid": cmd.Process.Pid})
	return c.h, nil
}

// Reap harvests every child that has exited without blocking and returns how
// many were collected.
func (s *ProcessSpawner) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid <= 0 {
			return n
		}
		c, ok := s.children[pid]
		if !ok {
			continue
		}
		delete(s.children, pid)
		n++
		res := Result{ExplicitClose: ws.Exited() && ws.ExitStatus() == ExitExplicitClose}
		switch {
		case ws.Signaled():
			res.Err = fmt.Errorf("session process %d killed by %s", pid, ws.Signal())
		case ws.Exited() && ws.ExitStatus() != 0 && !res.ExplicitClose:
			res.Err = fmt.Errorf("session process %d exited with status %d", pid, ws.ExitStatus())
		}
		_ = c.proc.Release()
		obs.SessionsActive.WithLabelValues(c.mode).Dec()
		obs.SessionDurationSeconds.Observe(time.Since(c.start).Seconds())
		obs.Debug("session.end", obs.Fields{"peer": c.peer, "mode": c.mode, "pid": pid, "explicit_close": res.ExplicitClose})
		c.h.finish(res)
	}
}

func (s *ProcessSpawner) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Close refuses further spawns and sends SIGTERM to every live child.
func (s *ProcessSpawner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for pid := range s.children {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			obs.Error("session.kill", obs.Fields{"pid": pid, "err": err.Error()})
		}
	}
}

// Wait reaps children until none are left or ctx ends.
func (s *ProcessSpawner) Wait(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		s.Reap()
		if s.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
