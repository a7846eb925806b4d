package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"

	"github.com/luoshuqi/http-forward/internal/client"
	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/tlsutil"
)

func main() {
	flag.Parse()
	if err := applyConfigFile(); err != nil {
		obs.Error("config.load", obs.Fields{"err": err.Error(), "file": cfg.ConfigFile})
		os.Exit(1)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.ServerAddr == "" || cfg.ClientCert == "" || cfg.ClientKey == "" {
		obs.Error("config.invalid", obs.Fields{"err": "-server, -cert and -key are required"})
		os.Exit(1)
	}
	if len(cfg.Forwards) == 0 {
		obs.Error("config.invalid", obs.Fields{"err": "at least one -forward rule is required"})
		os.Exit(1)
	}

	serverName := cfg.ServerName
	if serverName == "" {
		host, _, err := net.SplitHostPort(cfg.ServerAddr)
		if err != nil {
			obs.Error("config.invalid", obs.Fields{"err": "server address must be host:port", "server": cfg.ServerAddr})
			os.Exit(1)
		}
		serverName = host
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		obs.Error("tls.client_cert", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	tlsCfg, err := tlsutil.ClientConfig(cert, serverName)
	if err != nil {
		obs.Error("tls.client", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	forwards := make(map[string]string, len(cfg.Forwards))
	for _, r := range cfg.Forwards {
		forwards[r.Domain] = r.Target
	}
	cl := client.New(client.Config{
		ServerAddr:   cfg.ServerAddr,
		TLS:          tlsCfg,
		Forwards:     forwards,
		PingInterval: cfg.PingInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Info("client.start", obs.Fields{"server": cfg.ServerAddr, "forwards": len(forwards)})

	// The engine treats control connection loss as fatal; reconnecting with
	// jittered backoff lives here, outside the protocol.
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		started := time.Now()
		err := cl.Run(ctx)
		if ctx.Err() != nil {
			obs.Info("client.exit", obs.Fields{})
			return
		}
		if errors.Is(err, client.ErrRejected) {
			obs.Error("client.rejected", obs.Fields{"err": err.Error()})
			os.Exit(1)
		}
		if err != nil {
			obs.Error("client.disconnected", obs.Fields{"err": err.Error()})
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.Duration()
		obs.Info("client.reconnect", obs.Fields{"in": wait.String()})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			obs.Info("client.exit", obs.Fields{})
			return
		}
	}
}
