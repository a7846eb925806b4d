// Package config loads the optional YAML configuration files of both
// binaries. Values here are defaults; command-line flags override them.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "15s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server is the server-side configuration file.
type Server struct {
	ControlAddr string `yaml:"control_addr"`
	PublicAddr  string `yaml:"public_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
	HTTPCert   string `yaml:"http_cert"`
	HTTPKey    string `yaml:"http_key"`

	PairingTimeout Duration `yaml:"pairing_timeout"`
	ScanTimeout    Duration `yaml:"scan_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	MaxHeaderBytes int      `yaml:"max_header_bytes"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Debug bool `yaml:"debug"`
}

// Client is the client-side configuration file.
type Client struct {
	ServerAddr   string        `yaml:"server_addr"`
	ServerName   string        `yaml:"server_name"`
	ClientCert   string        `yaml:"client_cert"`
	ClientKey    string        `yaml:"client_key"`
	Forwards     []ForwardRule `yaml:"forwards"`
	PingInterval Duration      `yaml:"ping_interval"`
	Debug        bool          `yaml:"debug"`
}

// ForwardRule maps a public domain to the local TCP endpoint serving it.
// The file and flag form is "domain:host:port".
type ForwardRule struct {
	Domain string
	Target string
}

func (r *ForwardRule) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	rule, err := ParseForwardRule(s)
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// ParseForwardRule splits "domain:host:port" at the first colon. The domain
// is case-normalized the same way the server normalizes Host headers.
func ParseForwardRule(s string) (ForwardRule, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ForwardRule{}, fmt.Errorf("forward rule %q: want domain:host:port", s)
	}
	domain := strings.ToLower(strings.TrimSpace(s[:i]))
	target := s[i+1:]
	if _, _, err := net.SplitHostPort(target); err != nil {
		return ForwardRule{}, fmt.Errorf("forward rule %q: bad target: %w", s, err)
	}
	return ForwardRule{Domain: domain, Target: target}, nil
}

func LoadServer(path string) (*Server, error) {
	var c Server
	if err := loadYAML(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadClient(path string) (*Client, error) {
	var c Client
	if err := loadYAML(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
