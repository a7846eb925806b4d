// Package client implements the tunnel client engine: it keeps one control
// connection to the server, declares its domains, and reacts to forward
// requests by splicing fresh data connections to local targets.
//
// Run returns when the control connection is lost; reconnect policy belongs
// to the caller.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/proto"
	"github.com/luoshuqi/http-forward/internal/relay"
)

// ErrRejected means the server refused the domain declaration; retrying
// with the same configuration will not help.
var ErrRejected = errors.New("declaration rejected")

var localFailureResponse = []byte("HTTP/1.1 502 Bad Gateway\r\nContent-Type: text/plain\r\nContent-Length: 11\r\nConnection: close\r\n\r\nBad Gateway")

type Config struct {
	// ServerAddr is the control endpoint, host:port.
	ServerAddr string
	// TLS is the mutual-TLS client config; nil dials plain TCP (tests only).
	TLS *tls.Config
	// Forwards maps domain -> local target address.
	Forwards map[string]string
	// PingInterval paces control keepalives. Default 50s.
	PingInterval time.Duration
	// DialTimeout bounds every dial this client makes. Default 10s.
	DialTimeout time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 50 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg}
}

// Run dials the server, declares every configured domain and serves forward
// requests until ctx is done or the control connection fails.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{proto.MarkerControl}); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	domains := make([]string, 0, len(c.cfg.Forwards))
	for d := range c.cfg.Forwards {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	if err := proto.WriteMessage(conn, proto.Declare(domains)); err != nil {
		return fmt.Errorf("declare: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	m, err := proto.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("read declare response: %w", err)
	}
	switch m.Kind {
	case proto.KindAck:
	case proto.KindError:
		return fmt.Errorf("%w: %s", ErrRejected, m.Reason)
	default:
		return fmt.Errorf("unexpected %s while waiting for ack", m.Kind)
	}
	_ = conn.SetReadDeadline(time.Time{})
	obs.Info("client.registered", obs.Fields{"server": c.cfg.ServerAddr, "domains": domains})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wmu sync.Mutex
	go func() {
		// keepalive; a write failure also surfaces on the read loop
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				wmu.Lock()
				err := proto.WriteMessage(conn, proto.Ping())
				wmu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		m, err := proto.ReadMessage(conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errors.New("server closed control connection")
			}
			return fmt.Errorf("control read: %w", err)
		}
		switch m.Kind {
		case proto.KindForward:
			id, err := proto.ParseID(m.ID)
			if err != nil {
				return fmt.Errorf("forward: %w", err)
			}
			go c.handleForward(ctx, id, m.Domain)
		case proto.KindPong:
		default:
			return fmt.Errorf("unexpected control message %s", m.Kind)
		}
	}
}

// handleForward opens the data connection first so the server's pairing
// clock stops ticking, then dials the local target. A local dial failure is
// answered with a 502 on the data connection so the public side fails
// promptly instead of waiting out the deadline.
func (c *Client) handleForward(ctx context.Context, id proto.ID, domain string) {
	data, err := c.dial(ctx)
	if err != nil {
		obs.Error("data.dial", obs.Fields{"err": err.Error(), "domain": domain})
		return
	}
	if _, err := data.Write(append([]byte{proto.MarkerData}, id[:]...)); err != nil {
		obs.Error("data.handshake", obs.Fields{"err": err.Error(), "domain": domain})
		_ = data.Close()
		return
	}

	target, ok := c.cfg.Forwards[domain]
	if !ok {
		obs.Error("forward.unknown_domain", obs.Fields{"domain": domain})
		_, _ = data.Write(localFailureResponse)
		_ = data.Close()
		return
	}
	local, err := net.DialTimeout("tcp", target, c.cfg.DialTimeout)
	if err != nil {
		obs.Error("local.dial", obs.Fields{"err": err.Error(), "domain": domain, "target": target})
		_, _ = data.Write(localFailureResponse)
		_ = data.Close()
		return
	}
	obs.Debug("forward.start", obs.Fields{"domain": domain, "target": target, "id": id.String()})
	_ = relay.Splice(data, local, nil)
	obs.Debug("forward.end", obs.Fields{"domain": domain, "id": id.String()})
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.ServerAddr, err)
	}
	if c.cfg.TLS == nil {
		return raw, nil
	}
	tc := tls.Client(raw, c.cfg.TLS)
	hctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", c.cfg.ServerAddr, err)
	}
	return tc, nil
}
