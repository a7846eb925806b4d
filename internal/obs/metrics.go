package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "http_forward_active_sessions", Help: "Currently connected client sessions"})
	RegisteredDomains      = promauto.NewGauge(prometheus.GaugeOpts{Name: "http_forward_registered_domains", Help: "Domains currently registered for forwarding"})
	PendingPairings        = promauto.NewGauge(prometheus.GaugeOpts{Name: "http_forward_pending_pairings", Help: "Public connections waiting for a data connection"})
	TunnelEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "http_forward_tunnel_established_total", Help: "Pairings completed"})
	PairingTimeoutTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "http_forward_pairing_timeout_total", Help: "Pairings that timed out before a data connection arrived"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "http_forward_errors_total", Help: "Errors by type"}, []string{"type"})
	TunnelDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "http_forward_tunnel_duration_seconds", Help: "Tunnel lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
