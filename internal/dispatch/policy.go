// Package dispatch runs the loops that turn connections into sessions: one
// accept loop per bound endpoint and one reconnecting connector per active
// target.
package dispatch

import (
	"sync/atomic"

	"github.com/matst80/rpcapd/internal/hostauth"
	"github.com/matst80/rpcapd/internal/obs"
)

// Policy is the reloadable part of the configuration. A Policy is never
// modified once stored.
type Policy struct {
	Hosts           *hostauth.AllowList
	NullAuthAllowed bool
}

// PolicyStore holds the Policy in effect. Every connection reads exactly one
// snapshot.
type PolicyStore struct {
	p atomic.Pointer[Policy]
}

func NewPolicyStore(p *Policy) *PolicyStore {
	s := &PolicyStore{}
	s.Store(p)
	return s
}

// Load returns the current policy; never nil.
func (s *PolicyStore) Load() *Policy {
	if p := s.p.Load(); p != nil {
		return p
	}
	return &Policy{}
}

// Store swaps in p.
func (s *PolicyStore) Store(p *Policy) {
	if p == nil {
		p = &Policy{}
	}
	s.p.Store(p)
	obs.AllowListEntries.Set(float64(p.Hosts.Len()))
}
