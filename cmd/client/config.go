package main

import (
	"flag"
	"time"

	"github.com/luoshuqi/http-forward/internal/config"
)

// Config holds client runtime configuration from flags and (optionally) a
// YAML file. Flags win over file values.
type Config struct {
	ConfigFile string

	ServerAddr string
	ServerName string
	ClientCert string
	ClientKey  string

	Forwards forwardFlags

	PingInterval time.Duration
	Debug        bool
}

// forwardFlags collects repeated -forward domain:host:port flags.
type forwardFlags []config.ForwardRule

func (f *forwardFlags) String() string { return "" }

func (f *forwardFlags) Set(s string) error {
	rule, err := config.ParseForwardRule(s)
	if err != nil {
		return err
	}
	*f = append(*f, rule)
	return nil
}

var cfg Config

func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "", "optional YAML config file; flags override its values")
	flag.StringVar(&cfg.ServerAddr, "server", "", "server control address, host:port")
	flag.StringVar(&cfg.ServerName, "server-name", "", "TLS server name; defaults to the host part of -server")
	flag.StringVar(&cfg.ClientCert, "cert", "", "client certificate (leaf plus the issuing server certificate)")
	flag.StringVar(&cfg.ClientKey, "key", "", "client certificate key")
	flag.Var(&cfg.Forwards, "forward", "forwarding rule domain:host:port (repeatable)")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", 50*time.Second, "control connection keepalive interval")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}

// applyConfigFile fills in values from the YAML file for flags the user did
// not set explicitly. Forward rules from the file are appended to rules from
// flags.
func applyConfigFile() error {
	if cfg.ConfigFile == "" {
		return nil
	}
	file, err := config.LoadClient(cfg.ConfigFile)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["server"] && file.ServerAddr != "" {
		cfg.ServerAddr = file.ServerAddr
	}
	if !set["server-name"] && file.ServerName != "" {
		cfg.ServerName = file.ServerName
	}
	if !set["cert"] && file.ClientCert != "" {
		cfg.ClientCert = file.ClientCert
	}
	if !set["key"] && file.ClientKey != "" {
		cfg.ClientKey = file.ClientKey
	}
	if !set["ping-interval"] && file.PingInterval > 0 {
		cfg.PingInterval = file.PingInterval.Std()
	}
	if !set["debug"] && file.Debug {
		cfg.Debug = true
	}
	cfg.Forwards = append(cfg.Forwards, file.Forwards...)
	return nil
}
