package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadServer(t *testing.T) {
	path := writeFile(t, "server.yaml", `
control_addr: ":9000"
public_addr: ":8443"
metrics_addr: ":9100"
server_cert: /etc/hf/server.pem
server_key: /etc/hf/server.key
http_cert: /etc/hf/http.pem
http_key: /etc/hf/http.key
pairing_timeout: 15s
scan_timeout: 30s
sweep_interval: 5s
max_header_bytes: 8192
redis_addr: "127.0.0.1:6379"
debug: true
`)
	c, err := LoadServer(path)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if c.ControlAddr != ":9000" || c.PublicAddr != ":8443" {
		t.Errorf("addrs = %q %q", c.ControlAddr, c.PublicAddr)
	}
	if c.PairingTimeout.Std() != 15*time.Second {
		t.Errorf("pairing_timeout = %v", c.PairingTimeout.Std())
	}
	if c.MaxHeaderBytes != 8192 {
		t.Errorf("max_header_bytes = %d", c.MaxHeaderBytes)
	}
	if !c.Debug {
		t.Error("debug should be true")
	}
}

func TestLoadServerRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "server.yaml", "contrl_addr: \":9000\"\n")
	if _, err := LoadServer(path); err == nil {
		t.Error("expected error for misspelled field")
	}
}

func TestLoadClient(t *testing.T) {
	path := writeFile(t, "client.yaml", `
server_addr: "tunnel.example.com:9000"
server_name: tunnel.example.com
client_cert: client.pem
client_key: client.key
ping_interval: 50s
forwards:
  - "A.Example.com:127.0.0.1:8080"
  - "b.example.com:10.0.0.5:80"
`)
	c, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if len(c.Forwards) != 2 {
		t.Fatalf("forwards = %v", c.Forwards)
	}
	if c.Forwards[0].Domain != "a.example.com" || c.Forwards[0].Target != "127.0.0.1:8080" {
		t.Errorf("forwards[0] = %+v", c.Forwards[0])
	}
	if c.PingInterval.Std() != 50*time.Second {
		t.Errorf("ping_interval = %v", c.PingInterval.Std())
	}
}

func TestParseForwardRule(t *testing.T) {
	good := map[string]ForwardRule{
		"a.test:127.0.0.1:8080": {Domain: "a.test", Target: "127.0.0.1:8080"},
		"B.Test:localhost:80":   {Domain: "b.test", Target: "localhost:80"},
	}
	for in, want := range good {
		got, err := ParseForwardRule(in)
		if err != nil {
			t.Errorf("ParseForwardRule(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseForwardRule(%q) = %+v, want %+v", in, got, want)
		}
	}
	bad := []string{"", "a.test", "a.test:", ":127.0.0.1:8080", "a.test:nohost"}
	for _, in := range bad {
		if _, err := ParseForwardRule(in); err == nil {
			t.Errorf("ParseForwardRule(%q): expected error", in)
		}
	}
}
