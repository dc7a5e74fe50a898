package hostauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver maps a host name to its addresses.
type Resolver interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver uses the operating system's resolver.
type SystemResolver struct{}

func (SystemResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// DNSResolver queries a single DNS server directly for A and AAAA records.
type DNSResolver struct {
	Server string
	client *dns.Client
}

func NewDNSResolver(server string) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{Server: server, client: &dns.Client{Timeout: 3 * time.Second}}
}

var errNoRecords = errors.New("no address records")

func (r *DNSResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	var out []netip.Addr
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, addrs...)
	}
	if len(out) == 0 {
		if lastErr == nil {
			lastErr = errNoRecords
		}
		return nil, fmt.Errorf("lookup %s via %s: %w", host, r.Server, lastErr)
	}
	return out, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true
	resp, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
	}
	var out []netip.Addr
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(v.A); ok {
				out = append(out, a.Unmap())
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(v.AAAA); ok {
				out = append(out, a)
			}
		}
	}
	return out, nil
}
