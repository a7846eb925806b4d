package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/tunnel"
	"github.com/luoshuqi/http-forward/internal/web"
)

// startMetricsServer serves Prometheus metrics, health endpoints and a small
// state API / dashboard.
func startMetricsServer(addr string, srv *tunnel.Server) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !srv.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(srv.Snapshot(r.Context()))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		st := srv.Snapshot(r.Context())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := map[string]any{
			"Title":        "http-forward dashboard",
			"Sessions":     st.Sessions,
			"Domains":      strings.Join(st.Domains, ", "),
			"Pending":      st.Pending,
			"TotalTunnels": st.TotalTunnels,
			"Timeouts":     st.Timeouts,
		}
		if err := web.Render(w, "dashboard.html", data); err != nil {
			http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		}
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}
