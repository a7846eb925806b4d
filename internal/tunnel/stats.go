package tunnel

import (
	"context"
	"time"

	"github.com/luoshuqi/http-forward/internal/obs"
)

// Stats is the state snapshot served by the stats API and dashboard.
type Stats struct {
	Sessions       int      `json:"sessions"`
	Domains        []string `json:"domains"`
	Pending        int      `json:"pending"`
	TotalTunnels   int64    `json:"total_tunnels"`
	Timeouts       int64    `json:"timeouts"`
	ClusterDomains []string `json:"cluster_domains,omitempty"`
	Now            string   `json:"now"`
}

// LocalDomains lists the domains registered on this instance, for the
// presence heartbeat.
func (s *Server) LocalDomains() []string { return s.domains.Domains() }

// Snapshot collects current counters; cluster domains come from the
// presence mirror when one is attached.
func (s *Server) Snapshot(ctx context.Context) Stats {
	s.mu.Lock()
	st := Stats{
		Sessions:     len(s.sessions),
		TotalTunnels: s.totalTunnels,
		Timeouts:     s.timeouts,
	}
	s.mu.Unlock()
	st.Domains = s.domains.Domains()
	st.Pending = s.pendings.Len()
	st.Now = time.Now().UTC().Format(time.RFC3339)
	if s.presence != nil {
		cluster, err := s.presence.ClusterDomains(ctx)
		if err != nil {
			obs.Error("presence.cluster", obs.Fields{"err": err.Error()})
		} else {
			st.ClusterDomains = cluster
		}
	}
	return st
}
