// Package tunnel implements the server core: the control protocol engine,
// the domain and correlation registries, and the pairing of public
// connections with client data connections.
package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/proto"
	"github.com/luoshuqi/http-forward/internal/registry"
	"github.com/luoshuqi/http-forward/internal/relay"
	"github.com/luoshuqi/http-forward/internal/tlsutil"
)

// Config holds the tunnel engine knobs; zero values get defaults.
type Config struct {
	// PairingTimeout limits how long a public connection waits for its data
	// connection.
	PairingTimeout time.Duration
	// ScanTimeout limits the host scan on a public connection.
	ScanTimeout time.Duration
	// SweepInterval is the cadence of the expired-pending sweep.
	SweepInterval time.Duration
	// HandshakeTimeout covers TLS handshake, marker byte and first declare.
	HandshakeTimeout time.Duration
	// MaxHeaderBytes caps bytes buffered while scanning for the Host header.
	MaxHeaderBytes int
}

func (c Config) withDefaults() Config {
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 15 * time.Second
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = 8 * 1024
	}
	return c
}

type pending = registry.Pending[*Session]

// Server routes public connections to client sessions. Create with New,
// then run ServeControl, ServePublic and RunSweeper, typically one goroutine
// each.
type Server struct {
	cfg      Config
	domains  *registry.DomainRegistry[*Session]
	pendings *registry.CorrelationRegistry[*Session]
	presence *Presence

	mu           sync.Mutex
	sessions     map[*Session]struct{}
	closing      bool
	ready        bool
	totalTunnels int64
	timeouts     int64
}

func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		domains:  registry.NewDomainRegistry[*Session](),
		pendings: registry.NewCorrelationRegistry[*Session](),
		sessions: make(map[*Session]struct{}),
	}
}

// SetPresence attaches an optional Redis presence mirror.
func (s *Server) SetPresence(p *Presence) { s.presence = p }

func (s *Server) SetReady(v bool) { s.mu.Lock(); s.ready = v; s.mu.Unlock() }

func (s *Server) IsReady() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.ready && !s.closing }

// ServeControl accepts control and data connections on ln until ctx is done
// or the listener closes.
func (s *Server) ServeControl(ctx context.Context, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept.control.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		go s.handleControlConn(c)
	}
}

// handleControlConn distinguishes the two connection kinds arriving on the
// control endpoint: framed control sessions and raw data connections.
func (s *Server) handleControlConn(c net.Conn) {
	_ = c.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	identity, err := s.authenticate(c)
	if err != nil {
		obs.Error("control.tls", obs.Fields{"err": err.Error(), "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("tls_auth").Inc()
		_ = c.Close()
		return
	}
	var marker [1]byte
	if _, err := io.ReadFull(c, marker[:]); err != nil {
		obs.Error("control.marker", obs.Fields{"err": err.Error(), "remote": c.RemoteAddr().String()})
		_ = c.Close()
		return
	}
	switch marker[0] {
	case proto.MarkerControl:
		s.runSession(c, identity)
	case proto.MarkerData:
		id, err := proto.ReadID(c)
		if err != nil {
			obs.Error("data.id", obs.Fields{"err": err.Error(), "remote": c.RemoteAddr().String()})
			_ = c.Close()
			return
		}
		_ = c.SetDeadline(time.Time{})
		s.adoptDataConn(c, id)
	default:
		obs.Error("control.bad_marker", obs.Fields{"marker": int(marker[0]), "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("protocol").Inc()
		_ = c.Close()
	}
}

// authenticate completes the TLS handshake eagerly so certificate failures
// surface here rather than on the first read, and returns the peer identity.
func (s *Server) authenticate(c net.Conn) (string, error) {
	tc, ok := c.(*tls.Conn)
	if !ok {
		// plain listener, as in tests
		return "", nil
	}
	if err := tc.Handshake(); err != nil {
		return "", err
	}
	return tlsutil.PeerIdentity(tc.ConnectionState()), nil
}

// runSession drives one control session: declare, ack, then forward
// requests and keepalives until the connection dies.
func (s *Server) runSession(c net.Conn, identity string) {
	sess := newSession(c, identity)
	defer s.teardown(sess)

	first, err := proto.ReadMessage(c)
	if err != nil {
		obs.Error("control.declare.read", obs.Fields{"err": err.Error(), "remote": sess.remote})
		return
	}
	domains, ok := validDeclaration(first)
	if !ok {
		obs.Error("control.declare.invalid", obs.Fields{"kind": string(first.Kind), "remote": sess.remote})
		obs.ErrorsTotal.WithLabelValues("protocol").Inc()
		_ = sess.send(proto.Error("expected non-empty declare"))
		return
	}
	_ = c.SetDeadline(time.Time{})

	s.register(sess, domains)
	if err := sess.send(proto.Ack()); err != nil {
		obs.Error("control.ack", obs.Fields{"err": err.Error(), "remote": sess.remote})
		return
	}
	obs.Info("session.registered", obs.Fields{"identity": identity, "remote": sess.remote, "domains": domains})

	for {
		m, err := proto.ReadMessage(c)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				obs.Error("control.read", obs.Fields{"err": err.Error(), "identity": identity})
			}
			return
		}
		switch m.Kind {
		case proto.KindDeclare:
			domains, ok := validDeclaration(m)
			if !ok {
				obs.Error("control.redeclare.invalid", obs.Fields{"identity": identity})
				obs.ErrorsTotal.WithLabelValues("protocol").Inc()
				_ = sess.send(proto.Error("empty declare"))
				return
			}
			s.register(sess, domains)
			if err := sess.send(proto.Ack()); err != nil {
				return
			}
			obs.Info("session.redeclared", obs.Fields{"identity": identity, "domains": domains})
		case proto.KindPing:
			if err := sess.send(proto.Pong()); err != nil {
				return
			}
		case proto.KindPong:
			// answer to a ping we never send today; harmless
		default:
			obs.Error("control.unexpected", obs.Fields{"kind": string(m.Kind), "identity": identity})
			obs.ErrorsTotal.WithLabelValues("protocol").Inc()
			return
		}
	}
}

// validDeclaration normalizes a declare message and rejects empty ones.
func validDeclaration(m *proto.Message) ([]string, bool) {
	if m.Kind != proto.KindDeclare || len(m.Domains) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(m.Domains))
	for _, d := range m.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, false
		}
		out = append(out, d)
	}
	return out, true
}

// register claims domains for sess, superseding prior owners (last writer
// wins), and mirrors the claims to the presence store.
func (s *Server) register(sess *Session, domains []string) {
	for _, d := range domains {
		if prev, displaced := s.domains.Register(d, sess); displaced {
			obs.Warn("domain.takeover", obs.Fields{"domain": d, "from": prev.Identity(), "to": sess.Identity()})
		}
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	n := len(s.sessions)
	s.mu.Unlock()
	obs.ActiveSessions.Set(float64(n))
	obs.RegisteredDomains.Set(float64(s.domains.Len()))
	if s.presence != nil {
		go s.presence.DomainsUp(domains)
	}
}

// teardown runs exactly once per session: it closes the control connection,
// revokes domain ownership and fails every pairing still waiting on this
// session.
func (s *Server) teardown(sess *Session) {
	if !sess.markClosed() {
		return
	}
	_ = sess.conn.Close()
	revoked := s.domains.RevokeAll(sess)
	failed := s.pendings.FailOwner(sess)
	s.mu.Lock()
	delete(s.sessions, sess)
	n := len(s.sessions)
	s.mu.Unlock()
	obs.ActiveSessions.Set(float64(n))
	obs.RegisteredDomains.Set(float64(s.domains.Len()))
	obs.PendingPairings.Set(float64(s.pendings.Len()))
	for _, p := range failed {
		respondPage(p.Conn, 502, "notfound.html", map[string]any{"Domain": p.Domain})
	}
	if s.presence != nil {
		go s.presence.DomainsDown(revoked)
	}
	obs.Info("session.closed", obs.Fields{"identity": sess.Identity(), "revoked": revoked, "failed": len(failed)})
}

// adoptDataConn pairs a data connection with its pending public connection
// and splices the two until closure.
func (s *Server) adoptDataConn(c net.Conn, id proto.ID) {
	p, ok := s.pendings.Take(id)
	if !ok {
		// unknown, expired or already-consumed id
		obs.Error("data.unmatched", obs.Fields{"id": id.String(), "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("unmatched_id").Inc()
		_ = c.Close()
		return
	}
	close(p.Ready)
	obs.PendingPairings.Set(float64(s.pendings.Len()))
	obs.TunnelEstablishedTotal.Inc()
	s.mu.Lock()
	s.totalTunnels++
	s.mu.Unlock()
	obs.Info("tunnel.established", obs.Fields{"id": id.String(), "domain": p.Domain, "residue": len(p.Residue)})
	start := time.Now()
	_ = relay.Splice(p.Conn, c, p.Residue)
	obs.TunnelDurationSeconds.Observe(time.Since(start).Seconds())
}

// RunSweeper periodically fails pending pairings whose deadline has passed.
func (s *Server) RunSweeper(ctx context.Context) {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, p := range s.pendings.Expire(now) {
				s.failPairing(p)
			}
			obs.PendingPairings.Set(float64(s.pendings.Len()))
		}
	}
}

func (s *Server) failPairing(p *pending) {
	s.mu.Lock()
	s.timeouts++
	s.mu.Unlock()
	obs.PairingTimeoutTotal.Inc()
	obs.ErrorsTotal.WithLabelValues("pairing_timeout").Inc()
	obs.Error("pairing.timeout", obs.Fields{"domain": p.Domain, "waited": time.Since(p.Created).String()})
	respondPage(p.Conn, 504, "timeout.html", map[string]any{"Domain": p.Domain, "Timeout": s.cfg.PairingTimeout.String()})
}

// Shutdown closes every session and fails everything still pending. Accept
// loops are stopped by closing their listeners.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		_ = sess.conn.Close()
	}
	for _, p := range s.pendings.Drain() {
		_ = p.Conn.Close()
	}
	obs.Info("server.shutdown.drained", obs.Fields{"sessions": len(open)})
}
