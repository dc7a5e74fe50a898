package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matst80/rpcapd/internal/lifecycle"
	"github.com/matst80/rpcapd/internal/obs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsServer struct {
	srv *http.Server
}

func newMetricsMux(d *daemon) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collectStats(d))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.ctrl.State() != lifecycle.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// startMetricsServer serves Prometheus metrics plus health and state endpoints.
func startMetricsServer(addr string, d *daemon) *metricsServer {
	m := &metricsServer{srv: &http.Server{Addr: addr, Handler: newMetricsMux(d), ReadHeaderTimeout: 5 * time.Second}}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
		return m
	}
	obs.Info("metrics.server", obs.Fields{"addr": ln.Addr().String()})
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
		}
	}()
	return m
}

func (m *metricsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
}
