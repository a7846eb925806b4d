package main

import (
	"flag"
	"time"

	"github.com/luoshuqi/http-forward/internal/config"
)

// Config holds all runtime configuration, from flags and (optionally) a YAML
// file. Flags win over file values.
type Config struct {
	ConfigFile string

	ControlAddr string
	PublicAddr  string
	MetricsAddr string

	ServerCert string
	ServerKey  string
	HTTPCert   string
	HTTPKey    string

	PairingTimeout time.Duration
	ScanTimeout    time.Duration
	SweepInterval  time.Duration
	MaxHeaderBytes int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Debug bool
}

var cfg Config

func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "", "optional YAML config file; flags override its values")
	flag.StringVar(&cfg.ControlAddr, "control", ":9000", "control endpoint bind address (client control and data connections)")
	flag.StringVar(&cfg.PublicAddr, "public", ":8443", "public HTTPS bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics / health / stats bind address")
	flag.StringVar(&cfg.ServerCert, "server-cert", "", "server certificate (also the CA for client certificates)")
	flag.StringVar(&cfg.ServerKey, "server-key", "", "server certificate key")
	flag.StringVar(&cfg.HTTPCert, "http-cert", "", "certificate served on the public endpoint")
	flag.StringVar(&cfg.HTTPKey, "http-key", "", "public certificate key")
	flag.DurationVar(&cfg.PairingTimeout, "pairing-timeout", 15*time.Second, "time limit for a client to open the paired data connection")
	flag.DurationVar(&cfg.ScanTimeout, "scan-timeout", 30*time.Second, "time limit for the Host header to arrive on a public connection")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", 5*time.Second, "interval for sweeping expired pending pairings")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", 8*1024, "maximum bytes buffered while scanning for the Host header")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "optional Redis address for the cluster presence mirror")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}

// applyConfigFile fills in values from the YAML file for flags the user did
// not set explicitly.
func applyConfigFile() error {
	if cfg.ConfigFile == "" {
		return nil
	}
	file, err := config.LoadServer(cfg.ConfigFile)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["control"] && file.ControlAddr != "" {
		cfg.ControlAddr = file.ControlAddr
	}
	if !set["public"] && file.PublicAddr != "" {
		cfg.PublicAddr = file.PublicAddr
	}
	if !set["metrics"] && file.MetricsAddr != "" {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if !set["server-cert"] && file.ServerCert != "" {
		cfg.ServerCert = file.ServerCert
	}
	if !set["server-key"] && file.ServerKey != "" {
		cfg.ServerKey = file.ServerKey
	}
	if !set["http-cert"] && file.HTTPCert != "" {
		cfg.HTTPCert = file.HTTPCert
	}
	if !set["http-key"] && file.HTTPKey != "" {
		cfg.HTTPKey = file.HTTPKey
	}
	if !set["pairing-timeout"] && file.PairingTimeout > 0 {
		cfg.PairingTimeout = file.PairingTimeout.Std()
	}
	if !set["scan-timeout"] && file.ScanTimeout > 0 {
		cfg.ScanTimeout = file.ScanTimeout.Std()
	}
	if !set["sweep-interval"] && file.SweepInterval > 0 {
		cfg.SweepInterval = file.SweepInterval.Std()
	}
	if !set["max-header-bytes"] && file.MaxHeaderBytes > 0 {
		cfg.MaxHeaderBytes = file.MaxHeaderBytes
	}
	if !set["redis"] && file.RedisAddr != "" {
		cfg.RedisAddr = file.RedisAddr
	}
	if !set["redis-password"] && file.RedisPassword != "" {
		cfg.RedisPassword = file.RedisPassword
	}
	if !set["redis-db"] && file.RedisDB != 0 {
		cfg.RedisDB = file.RedisDB
	}
	if !set["debug"] && file.Debug {
		cfg.Debug = true
	}
	return nil
}
