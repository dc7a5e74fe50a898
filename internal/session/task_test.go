package session

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func pipeParams(active bool) (*Params, net.Conn) {
	a, b := net.Pipe()
	return &Params{Conn: a, Active: active, Peer: "pipe"}, b
}

func waitHandle(t *testing.T, h Handle) Result {
	t.Helper()
	select {
	case <-h.Done():
		return h.Wait()
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	return Result{}
}

func TestTaskSpawnerReportsExplicitClose(t *testing.T) {
	svc := ServiceFunc(func(_ context.Context, p *Params) { p.ExplicitClose = true })
	s := NewTaskSpawner(svc, 0)
	defer s.Close()

	p, peer := pipeParams(true)
	defer peer.Close()
	h, err := s.Spawn(p)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if r := waitHandle(t, h); !r.ExplicitClose || r.Err != nil {
		t.Errorf("result = %+v, want explicit close", r)
	}

	// Passive sessions never report explicit close.
	p, peer2 := pipeParams(false)
	defer peer2.Close()
	h, err = s.Spawn(p)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if r := waitHandle(t, h); r.ExplicitClose {
		t.Error("passive session reported explicit close")
	}
}

func TestTaskSpawnerClosesConnAfterServe(t *testing.T) {
	s := NewTaskSpawner(ServiceFunc(func(context.Context, *Params) {}), 0)
	defer s.Close()
	p, peer := pipeParams(false)
	h, err := s.Spawn(p)
	if err != nil {
		t.Fatal(err)
	}
	waitHandle(t, h)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := peer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF on peer, got %v", err)
	}
}

func TestTaskSpawnerPanicIsolation(t *testing.T) {
	svc := ServiceFunc(func(_ context.Context, p *Params) {
		if p.Peer == "bad" {
			panic("boom")
		}
	})
	s := NewTaskSpawner(svc, 0)
	defer s.Close()

	bad, b1 := pipeParams(false)
	defer b1.Close()
	bad.Peer = "bad"
	good, b2 := pipeParams(false)
	defer b2.Close()

	hb, err := s.Spawn(bad)
	if err != nil {
		t.Fatal(err)
	}
	hg, err := s.Spawn(good)
	if err != nil {
		t.Fatal(err)
	}
	if r := waitHandle(t, hb); r.Err == nil {
		t.Error("expected panic to be reported")
	}
	if r := waitHandle(t, hg); r.Err != nil {
		t.Errorf("sibling affected: %v", r.Err)
	}
	if n := s.Active(); n != 0 {
		t.Errorf("active = %d after both finished", n)
	}
}

func TestTaskSpawnerMaxSessions(t *testing.T) {
	release := make(chan struct{})
	s := NewTaskSpawner(ServiceFunc(func(context.Context, *Params) { <-release }), 2)
	defer s.Close()

	var handles []Handle
	for i := 0; i < 2; i++ {
		p, peer := pipeParams(false)
		defer peer.Close()
		h, err := s.Spawn(p)
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	p, peer := pipeParams(false)
	defer peer.Close()
	if _, err := s.Spawn(p); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("expected ErrTooManySessions, got %v", err)
	}
	close(release)
	for _, h := range handles {
		waitHandle(t, h)
	}
	if _, err := s.Spawn(p); err != nil {
		t.Errorf("spawn after release: %v", err)
	}
}

func TestTaskSpawnerCloseStopsWorkers(t *testing.T) {
	svc := ServiceFunc(func(_ context.Context, p *Params) {
		_, _ = p.Conn.Read(make([]byte, 1))
	})
	s := NewTaskSpawner(svc, 0)
	p, peer := pipeParams(false)
	defer peer.Close()
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	p2, peer2 := pipeParams(false)
	defer peer2.Close()
	if _, err := s.Spawn(p2); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("fiber", ServiceFunc(func(context.Context, *Params) {}), Options{}); err == nil {
		t.Error("expected error")
	}
	sp, err := New(BackendTask, ServiceFunc(func(context.Context, *Params) {}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sp.(*TaskSpawner); !ok {
		t.Errorf("got %T", sp)
	}
}

func TestParseChildArgs(t *testing.T) {
	a := ChildArgs{Active: true, NullAuth: false, Peer: "10.0.0.5:4000"}
	got, err := ParseChildArgs(a.argv()[1:])
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Errorf("got %+v, want %+v", got, a)
	}
}
