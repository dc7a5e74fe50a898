package hostauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/matst80/rpcapd/internal/obs"
)

// ErrHostNotAllowed is returned when the peer matches no allow-list entry.
var ErrHostNotAllowed = errors.New("host not allowed")

// Authorizer checks peers against an AllowList.
type Authorizer struct {
	Resolver Resolver
}

// NewAuthorizer returns an Authorizer using r, or the system resolver when r is nil.
func NewAuthorizer(r Resolver) *Authorizer {
	if r == nil {
		r = SystemResolver{}
	}
	return &Authorizer{Resolver: r}
}

// Authorize returns nil when peer may connect. Each entry is resolved and
// every address it yields is compared with the peer; entries that fail to
// resolve are skipped.
func (a *Authorizer) Authorize(ctx context.Context, list *AllowList, peer net.Addr) error {
	if list.Empty() {
		return nil
	}
	addr, err := peerAddr(peer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostNotAllowed, err)
	}
	for _, entry := range list.entries {
		if ip, err := netip.ParseAddr(entry); err == nil {
			if ip.Unmap() == addr {
				return nil
			}
			continue
		}
		ips, err := a.Resolver.LookupNetIP(ctx, entry)
		if err != nil {
			obs.Debug("hostauth.resolve.failed", obs.Fields{"entry": entry, "err": err.Error()})
			continue
		}
		for _, ip := range ips {
			if ip.Unmap() == addr {
				return nil
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrHostNotAllowed, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, addr)
}

func peerAddr(peer net.Addr) (netip.Addr, error) {
	switch p := peer.(type) {
	case *net.TCPAddr:
		if a, ok := netip.AddrFromSlice(p.IP); ok {
			return a.Unmap(), nil
		}
	case nil:
		return netip.Addr{}, errors.New("no peer address")
	}
	ap, err := netip.ParseAddrPort(peer.String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("peer address %q: %w", peer.String(), err)
	}
	return ap.Addr().Unmap(), nil
}
