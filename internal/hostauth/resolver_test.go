package hostauth

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
)

func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := dns.NewServeMux()
	mux.HandleFunc("alice.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR("alice.test. 60 IN A 10.9.0.1")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			rr, _ := dns.NewRR("alice.test. 60 IN AAAA 2001:db8::a")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	r := NewDNSResolver(startDNS(t))
	addrs, err := r.LookupNetIP(context.Background(), "alice.test")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := map[netip.Addr]bool{netip.MustParseAddr("10.9.0.1"): true, netip.MustParseAddr("2001:db8::a"): true}
	if len(addrs) != len(want) {
		t.Fatalf("addrs = %v", addrs)
	}
	for _, a := range addrs {
		if !want[a] {
			t.Errorf("unexpected addr %s", a)
		}
	}

	if _, err := r.LookupNetIP(context.Background(), "bob.test"); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestAuthorizeViaDNS(t *testing.T) {
	a := NewAuthorizer(NewResolver(startDNS(t)))
	list := Parse("alice.test bob.test")
	if err := a.Authorize(context.Background(), list, tcpAddr("10.9.0.1:999")); err != nil {
		t.Errorf("alice denied: %v", err)
	}
	if err := a.Authorize(context.Background(), list, tcpAddr("10.9.0.2:999")); err == nil {
		t.Error("unlisted peer allowed")
	}
}

func TestNewDNSResolverDefaultsPort(t *testing.T) {
	if r := NewDNSResolver("127.0.0.1"); r.Server != "127.0.0.1:53" {
		t.Errorf("server = %s", r.Server)
	}
}
