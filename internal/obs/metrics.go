package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsAccepted    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_connections_accepted_total", Help: "Inbound control connections accepted"}, []string{"listener"})
	ConnectionsRejected    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_connections_rejected_total", Help: "Connections closed before a session started, by reason"}, []string{"reason"})
	AcceptErrors           = promauto.NewCounter(prometheus.CounterOpts{Name: "rpcapd_accept_errors_total", Help: "Failed accept calls"})
	SessionsActive         = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rpcapd_sessions_active", Help: "Sessions currently running"}, []string{"mode"})
	SessionsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_sessions_total", Help: "Sessions started"}, []string{"mode"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rpcapd_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 18)})
	SpawnErrors            = promauto.NewCounter(prometheus.CounterOpts{Name: "rpcapd_spawn_errors_total", Help: "Sessions that could not be started"})
	ActiveConnectFailures  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_active_connect_failures_total", Help: "Failed outbound connection attempts"}, []string{"target"})
	AllowListEntries       = promauto.NewGauge(prometheus.GaugeOpts{Name: "rpcapd_allowlist_entries", Help: "Entries in the host allow-list in effect"})
	Reloads                = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_reloads_total", Help: "Configuration reloads by result"}, []string{"result"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpcapd_errors_total", Help: "Errors by type"}, []string{"type"})
)

// ModeLabel is the metric label for a session mode.
func ModeLabel(active bool) string {
	if active {
		return "active"
	}
	return "passive"
}
