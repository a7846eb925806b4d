package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/luoshuqi/http-forward/internal/obs"
	"github.com/luoshuqi/http-forward/internal/tlsutil"
	"github.com/luoshuqi/http-forward/internal/tunnel"
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
	if cfg.ServerCert == "" || cfg.ServerKey == "" || cfg.HTTPCert == "" || cfg.HTTPKey == "" {
		obs.Error("config.certs", obs.Fields{"err": "server-cert, server-key, http-cert and http-key are required"})
		os.Exit(1)
	}

	serverCert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		obs.Error("tls.server_cert", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	controlTLS, err := tlsutil.ControlServerConfig(serverCert)
	if err != nil {
		obs.Error("tls.control", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	reloader, err := tlsutil.NewCertReloader(cfg.HTTPCert, cfg.HTTPKey)
	if err != nil {
		obs.Error("tls.http_cert", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	publicTLS := tlsutil.PublicServerConfig(reloader.GetCertificate)

	srv := tunnel.New(tunnel.Config{
		PairingTimeout: cfg.PairingTimeout,
		ScanTimeout:    cfg.ScanTimeout,
		SweepInterval:  cfg.SweepInterval,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr != "" {
		instanceID := fmt.Sprintf("hf-%d", time.Now().UnixNano())
		presence, err := tunnel.NewPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, instanceID)
		if err != nil {
			obs.Error("presence.connect", obs.Fields{"err": err.Error(), "addr": cfg.RedisAddr})
			os.Exit(1)
		}
		defer presence.Close()
		presence.SetDomainsFunc(srv.LocalDomains)
		srv.SetPresence(presence)
		go presence.Run(ctx)
		obs.Info("presence.enabled", obs.Fields{"addr": cfg.RedisAddr, "instance": instanceID})
	}

	ctrlLn, err := tls.Listen("tcp", cfg.ControlAddr, controlTLS)
	if err != nil {
		obs.Error("listen.control", obs.Fields{"err": err.Error(), "addr": cfg.ControlAddr})
		os.Exit(1)
	}
	defer ctrlLn.Close()

	pubLn, err := tls.Listen("tcp", cfg.PublicAddr, publicTLS)
	if err != nil {
		obs.Error("listen.public", obs.Fields{"err": err.Error(), "addr": cfg.PublicAddr})
		os.Exit(1)
	}
	defer pubLn.Close()

	go startMetricsServer(cfg.MetricsAddr, srv)
	go func() {
		if err := reloader.Watch(ctx); err != nil {
			obs.Error("tls.watch", obs.Fields{"err": err.Error()})
		}
	}()
	go srv.RunSweeper(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); srv.ServeControl(ctx, ctrlLn) }()
	wg.Add(1)
	go func() { defer wg.Done(); srv.ServePublic(ctx, pubLn) }()

	srv.SetReady(true)
	obs.Info("server.ready", obs.Fields{"control": cfg.ControlAddr, "public": cfg.PublicAddr, "metrics": cfg.MetricsAddr})

	<-ctx.Done()
	obs.Info("server.shutdown.signal", obs.Fields{})
	_ = ctrlLn.Close()
	_ = pubLn.Close()
	srv.Shutdown()
	wg.Wait()
	obs.Info("server.shutdown.complete", obs.Fields{})
}
