package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"

	"github.com/matst80/rpcapd/internal/obs"
)

// BindSpec says where passive listeners go. An empty Address means every
// local address.
type BindSpec struct {
	Address  string
	Port     string
	IPv4Only bool
}

// Endpoint is one concrete local address to listen on.
type Endpoint struct {
	Network string // "tcp4" or "tcp6"
	Addr    netip.AddrPort
}

func (e Endpoint) String() string { return e.Network + "/" + e.Addr.String() }

func endpointFor(a netip.Addr, port uint16) Endpoint {
	a = a.Unmap()
	n := "tcp6"
	if a.Is4() {
		n = "tcp4"
	}
	return Endpoint{Network: n, Addr: netip.AddrPortFrom(a, port)}
}

// ResolveBind expands spec into endpoints, IPv4 first.
func ResolveBind(ctx context.Context, spec BindSpec) ([]Endpoint, error) {
	port, err := resolvePort(ctx, spec.Port)
	if err != nil {
		return nil, err
	}
	var addrs []netip.Addr
	switch {
	case spec.Address == "":
		addrs = append(addrs, netip.IPv4Unspecified())
		if !spec.IPv4Only {
			addrs = append(addrs, netip.IPv6Unspecified())
		}
	default:
		if a, err := netip.ParseAddr(spec.Address); err == nil {
			addrs = append(addrs, a)
		} else {
			network := "ip"
			if spec.IPv4Only {
				network = "ip4"
			}
			addrs, err = net.DefaultResolver.LookupNetIP(ctx, network, spec.Address)
			if err != nil {
				return nil, fmt.Errorf("resolve bind address %s: %w", spec.Address, err)
			}
		}
	}

	var out []Endpoint
	seen := make(map[Endpoint]struct{})
	for _, a := range addrs {
		ep := endpointFor(a, port)
		if spec.IPv4Only && ep.Network != "tcp4" {
			continue
		}
		if _, dup := seen[ep]; dup {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bind address %q yields no usable endpoint", spec.Address)
	}
	slices.SortStableFunc(out, func(a, b Endpoint) int { return cmp.Compare(a.Network, b.Network) })
	return out, nil
}

func resolvePort(ctx context.Context, s string) (uint16, error) {
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(n), nil
	}
	n, err := net.DefaultResolver.LookupPort(ctx, "tcp", s)
	if err != nil {
		return 0, fmt.Errorf("resolve port %q: %w", s, err)
	}
	return uint16(n), nil
}

// ListenFunc opens a listener for one endpoint.
type ListenFunc func(ctx context.Context, ep Endpoint) (net.Listener, error)

// Listen binds ep with SO_REUSEADDR, and IPV6_V6ONLY for IPv6 endpoints so
// the IPv4 and IPv6 wildcards can coexist.
func Listen(ctx context.Context, ep Endpoint) (net.Listener, error) {
	lc := net.ListenConfig{Control: control}
	return lc.Listen(ctx, ep.Network, ep.Addr.String())
}

// Bind opens a listener per endpoint and records each in reg. Endpoints that
// fail to bind are logged and skipped.
func Bind(ctx context.Context, eps []Endpoint, reg *Registry, listen ListenFunc) []net.Listener {
	if listen == nil {
		listen = Listen
	}
	var out []net.Listener
	for _, ep := range eps {
		ln, err := listen(ctx, ep)
		if err != nil {
			obs.Error("listen.bind", obs.Fields{"endpoint": ep.String(), "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("bind").Inc()
			continue
		}
		if !reg.Add(ln) {
			continue
		}
		obs.Info("listen.bound", obs.Fields{"endpoint": ep.String(), "addr": ln.Addr().String()})
		out = append(out, ln)
	}
	return out
}
