package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rathole-go/client/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "client.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalValidConfig = `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "proxy"
service_type = "socks5"

[client.services.socks]
require_auth = false
`

func TestLoad_MinimalConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HeartbeatTimeout.Seconds() != 40 {
		t.Errorf("HeartbeatTimeout = %v, want 40s", cfg.HeartbeatTimeout)
	}
	if cfg.Transport.Type != transport.KindTCP {
		t.Errorf("Transport.Type = %q, want tcp", cfg.Transport.Type)
	}
	if cfg.Pool.MinChannels != 2 || cfg.Pool.MaxChannels != 8 {
		t.Errorf("Pool = %+v, want defaults 2/8", cfg.Pool)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Socks == nil {
		t.Fatalf("expected one socks5 service, got %+v", cfg.Services)
	}
	if cfg.Services[0].Token != cfg.Token {
		t.Errorf("service token = %q, want inherited %q", cfg.Services[0].Token, cfg.Token)
	}
}

func TestLoad_RejectsMissingRemoteAddr(t *testing.T) {
	path := writeConfig(t, `
[client]
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "proxy"
service_type = "socks5"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for missing remote_addr")
	}
}

func TestLoad_RejectsBadPoolBounds(t *testing.T) {
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[client.pool]
min_tcp_channels = 10
max_tcp_channels = 2

[[client.services]]
name = "proxy"
service_type = "socks5"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for min_tcp_channels > max_tcp_channels")
	}
}

func TestLoad_RejectsDuplicateServiceNames(t *testing.T) {
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "proxy"
service_type = "socks5"

[[client.services]]
name = "proxy"
service_type = "socks5"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for duplicate service names")
	}
}

func TestLoad_RejectsSocksAuthRequiredWithoutCredentials(t *testing.T) {
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "proxy"
service_type = "socks5"

[client.services.socks]
require_auth = true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for require_auth without credentials")
	}
}

func TestLoad_RejectsUnknownServiceType(t *testing.T) {
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "mystery"
service_type = "ftp"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for unknown service_type")
	}
}

func TestLoad_LegacyModeSynthesizesOneSocksService(t *testing.T) {
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[client.socks]
require_auth = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Services) != 1 {
		t.Fatalf("expected one synthesized service, got %d", len(cfg.Services))
	}
	svc := cfg.Services[0]
	if svc.Name != "web" || svc.Type != "socks5" || svc.Socks == nil {
		t.Errorf("synthesized service = %+v, want name=web type=socks5 with Socks set", svc)
	}
}

func TestLoad_SSHServiceRoundTrips(t *testing.T) {
	dir := t.TempDir()
	hostKeyPath := filepath.Join(dir, "host_key")
	path := writeConfig(t, `
[client]
remote_addr = "example.com:2333"
service_name = "web"
token = "s3cr3t"

[[client.services]]
name = "shell"
service_type = "ssh"

[client.services.ssh]
username = "admin"
password = "hunter2"
host_key_path = "`+hostKeyPath+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].SSH == nil {
		t.Fatalf("expected one ssh service, got %+v", cfg.Services)
	}
	if cfg.Services[0].SSH.HostKeyPath != hostKeyPath {
		t.Errorf("HostKeyPath = %q, want %q", cfg.Services[0].SSH.HostKeyPath, hostKeyPath)
	}
}
