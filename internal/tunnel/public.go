package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/luoshuqi/http-forward/internal/hostscan"
	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/proto"
)

// ServePublic accepts public HTTP(S) connections on ln until ctx is done or
// the listener closes.
func (s *Server) ServePublic(ctx context.Context, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept.public.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		go s.handlePublicConn(c)
	}
}

// handlePublicConn scans the Host header exactly once, resolves the owning
// session and waits for the paired data connection. On pairing the data
// goroutine takes over; this goroutine only finishes failures.
func (s *Server) handlePublicConn(c net.Conn) {
	_ = c.SetReadDeadline(time.Now().Add(s.cfg.ScanTimeout))
	res, err := hostscan.Scan(c, s.cfg.MaxHeaderBytes)
	if err != nil {
		obs.Error("public.host_scan", obs.Fields{"err": err.Error(), "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues(scanErrorType(err)).Inc()
		_ = c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	sess, ok := s.domains.Resolve(res.Domain)
	if !ok {
		obs.Error("public.unresolved", obs.Fields{"domain": res.Domain, "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("unresolved_domain").Inc()
		respondPage(c, 502, "notfound.html", map[string]any{"Domain": res.Domain})
		return
	}

	id, err := proto.NewID()
	if err != nil {
		obs.Error("public.id", obs.Fields{"err": err.Error()})
		_ = c.Close()
		return
	}
	now := time.Now()
	p := &pending{
		Conn:     c,
		Residue:  res.Consumed,
		Owner:    sess,
		Domain:   res.Domain,
		Created:  now,
		Deadline: now.Add(s.cfg.PairingTimeout),
		Ready:    make(chan struct{}),
	}
	s.pendings.Put(id, p)
	obs.PendingPairings.Set(float64(s.pendings.Len()))

	if err := sess.Forward(id, res.Domain); err != nil {
		// control connection died under us; fail fast instead of waiting for
		// the pairing deadline
		if _, ok := s.pendings.Take(id); ok {
			obs.Error("public.forward", obs.Fields{"err": err.Error(), "domain": res.Domain})
			obs.ErrorsTotal.WithLabelValues("session_lost").Inc()
			respondPage(c, 502, "notfound.html", map[string]any{"Domain": res.Domain})
		}
		return
	}

	select {
	case <-p.Ready:
		// paired; the data connection goroutine owns both conns now
	case <-time.After(s.cfg.PairingTimeout):
		if _, ok := s.pendings.Take(id); ok {
			s.failPairing(p)
			obs.PendingPairings.Set(float64(s.pendings.Len()))
		}
	}
}

func scanErrorType(err error) string {
	switch {
	case errors.Is(err, hostscan.ErrMissingHost):
		return "missing_host"
	case errors.Is(err, hostscan.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, hostscan.ErrHeaderTooLarge):
		return "header_too_large"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "truncated_request"
	default:
		return "host_scan"
	}
}
