package main

import "time"

// Stats is the daemon snapshot served on /api/state.
type Stats struct {
	State         string   `json:"state"`
	Listeners     []string `json:"listeners"`
	ActiveTargets int      `json:"active_targets"`
	Sessions      int      `json:"sessions"`
	AllowedHosts  int      `json:"allowed_hosts"`
	NullAuth      bool     `json:"null_auth"`
	Worker        string   `json:"worker"`
	Now           string   `json:"now"`
}

func collectStats(d *daemon) Stats {
	pol := d.deps.Policy.Load()
	return Stats{
		State:         d.ctrl.State().String(),
		Listeners:     d.ctrl.Registry().Addrs(),
		ActiveTargets: len(d.cfg.Active),
		Sessions:      d.deps.Spawner.Active(),
		AllowedHosts:  pol.Hosts.Len(),
		NullAuth:      pol.NullAuthAllowed,
		Worker:        d.cfg.Worker,
		Now:           time.Now().UTC().Format(time.RFC3339),
	}
}
