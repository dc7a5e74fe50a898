// Package session starts one isolated worker per control connection and
// hands it to the protocol service.
//
// Two backends exist: TaskSpawner runs each session on its own goroutine,
// ProcessSpawner re-executes the daemon binary once per session. A process
// uses exactly one of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Params describes one session. It is created fresh for every connection and
// owned by the worker that serves it.
type Params struct {
	Conn            net.Conn
	Active          bool
	NullAuthAllowed bool
	// ExplicitClose is set by the service when an active-mode peer asked for
	// the relationship to end permanently.
	ExplicitClose bool
	Peer          string
}

// Service runs the protocol conversation over p.Conn until it ends.
type Service interface {
	Serve(ctx context.Context, p *Params)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, p *Params)

func (f ServiceFunc) Serve(ctx context.Context, p *Params) { f(ctx, p) }

// RejectReason says why a connection is closed before a session starts.
type RejectReason int

const (
	RejectHostNotAllowed RejectReason = iota + 1
	RejectSpawnFailed
	RejectRateLimited
)

func (r RejectReason) String() string {
	switch r {
	case RejectHostNotAllowed:
		return "host_not_allowed"
	case RejectSpawnFailed:
		return "spawn_failed"
	case RejectRateLimited:
		return "rate_limited"
	}
	return fmt.Sprintf("reject(%d)", int(r))
}

// Protocol is the session service plus the one piece of wire format the
// dispatcher needs: an encoded error reply for a rejected connection.
type Protocol interface {
	Service
	ErrorFrame(reason RejectReason, msg string) []byte
}

// Result is what a finished session reports back.
type Result struct {
	ExplicitClose bool
	Err           error
}

// Handle refers to one running session.
type Handle interface {
	// Wait blocks until the session ends.
	Wait() Result
	Done() <-chan struct{}
}

// Spawner starts sessions without blocking on them.
type Spawner interface {
	// Spawn starts a worker for p. On success the worker owns p.Conn; on
	// error the caller still owns it.
	Spawn(p *Params) (Handle, error)
	// Active returns the number of sessions still running.
	Active() int
	// Close refuses further spawns and asks every live worker to stop.
	Close()
	// Wait blocks until every worker has finished or ctx ends.
	Wait(ctx context.Context) error
}

// Reaper is implemented by spawners whose workers must be harvested.
type Reaper interface {
	Reap() int
}

var (
	ErrClosed          = errors.New("spawner closed")
	ErrTooManySessions = errors.New("too many sessions")
)

// Backend names accepted by New.
const (
	BackendTask    = "task"
	BackendProcess = "process"
)

// Options configure a spawner.
type Options struct {
	// MaxSessions bounds concurrent sessions; zero means unbounded.
	MaxSessions int
	// Path and Args select the binary and leading arguments used by the
	// process backend. Path defaults to the running executable.
	Path string
	Args []string
	Env  []string
}

// New returns the spawner for backend.
func New(backend string, svc Service, opts Options) (Spawner, error) {
	switch backend {
	case "", BackendTask:
		return NewTaskSpawner(svc, opts.MaxSessions), nil
	case BackendProcess:
		sp, err := NewProcessSpawner(opts)
		if err != nil {
			return nil, err
		}
		return sp, nil
	}
	return nil, fmt.Errorf("unknown session backend %q", backend)
}

type doneHandle struct {
	done chan struct{}
	res  Result
}

func newDoneHandle() *doneHandle { return &doneHandle{done: make(chan struct{})} }

func (h *doneHandle) Wait() Result {
	<-h.done
	return h.res
}

func (h *doneHandle) Done() <-chan struct{} { return h.done }

func (h *doneHandle) finish(r Result) {
	h.res = r
	close(h.done)
}
