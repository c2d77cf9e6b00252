// Package config loads and validates the client's TOML configuration file
// (spec.md §6, SPEC_FULL.md §4.13): one [client] block naming the control
// channel's remote address, service name and token, plus the shared
// transport/pool/wireguard settings and a [[client.services]] array, one
// entry per locally exposed service.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RawConfig is the literal shape of the TOML file. Field names use struct
// tags rather than BurntSushi/toml's default case-insensitive field
// matching so the file's snake_case keys are unambiguous.
type RawConfig struct {
	Client RawClient `toml:"client"`
}

type RawClient struct {
	RemoteAddr       string `toml:"remote_addr"`
	ServiceName      string `toml:"service_name"`
	Token            string `toml:"token"`
	HeartbeatTimeout int    `toml:"heartbeat_timeout"` // seconds, default 40

	Transport RawTransport `toml:"transport"`
	Pool      RawPool      `toml:"pool"`
	WireGuard RawWireGuard `toml:"wireguard"`

	// Socks is consulted only in legacy mode (Services is empty): it
	// configures the single implicit socks5 service named ServiceName.
	Socks *RawSocks `toml:"socks"`

	Services []RawService `toml:"services"`
}

type RawTransport struct {
	Type string `toml:"type"` // tcp | noise | websocket

	TCP struct {
		NoDelay           bool `toml:"no_delay"`
		KeepAliveIdle     int  `toml:"keepalive_idle"`
		KeepAliveInterval int  `toml:"keepalive_interval"`
	} `toml:"tcp"`

	Noise struct {
		Pattern         string `toml:"pattern"`
		LocalPrivateKey string `toml:"local_private_key"` // base64
		RemotePublicKey string `toml:"remote_public_key"` // base64
	} `toml:"noise"`

	WebSocket struct {
		URL                string `toml:"url"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	} `toml:"websocket"`

	ConnectTimeoutSeconds int `toml:"connect_timeout"`
}

type RawPool struct {
	MinTCPChannels         int `toml:"min_tcp_channels"`
	MaxTCPChannels         int `toml:"max_tcp_channels"`
	IdleTimeoutSeconds     int `toml:"idle_timeout"`
	HealthCheckIntervalSec int `toml:"health_check_interval"`
	AcquireTimeoutSeconds  int `toml:"acquire_timeout"`
}

type RawWireGuard struct {
	Enabled bool `toml:"enabled"`

	PrivateKey    string `toml:"private_key"`     // base64, 32 bytes decoded
	PeerPublicKey string `toml:"peer_public_key"` // base64, 32 bytes decoded
	PresharedKey  string `toml:"preshared_key"`   // base64, 32 bytes decoded, optional

	PeerEndpoint string `toml:"peer_endpoint"`

	PersistentKeepaliveSeconds int `toml:"persistent_keepalive"`

	Address    string   `toml:"address"`     // CIDR, e.g. "10.0.0.2/24"
	AllowedIPs []string `toml:"allowed_ips"` // CIDRs

	MTU int `toml:"mtu"`
}

// RawService is one [[client.services]] entry. Exactly one of Socks/SSH/VNC
// should be populated, matched to ServiceType.
type RawService struct {
	Name        string `toml:"name"`
	ServiceType string `toml:"service_type"` // socks5 | ssh | vnc
	Token       string `toml:"token"`        // overrides RawClient.Token when set

	Socks *RawSocks `toml:"socks"`
	SSH   *RawSSH   `toml:"ssh"`
	VNC   *RawVNC   `toml:"vnc"`
}

type RawSocks struct {
	RequireAuth                bool   `toml:"require_auth"`
	Username                   string `toml:"username"`
	Password                   string `toml:"password"`
	AllowUDP                   bool   `toml:"allow_udp"`
	DNSResolve                 bool   `toml:"dns_resolve"`
	RequestTimeoutSeconds      int    `toml:"request_timeout"`
	UDPAssociateTimeoutSeconds int    `toml:"udp_associate_timeout"`
}

type RawSSH struct {
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	AuthorizedKeys []string `toml:"authorized_keys"`
	HostKeyPath    string   `toml:"host_key_path"`
	Shell          string   `toml:"shell"`
}

type RawVNC struct {
	ListenHint string `toml:"listen_hint"`
}

// Load reads and parses path, applies defaults, validates the result, and
// returns the typed ClientConfig the rest of the process is built from.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw RawConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&raw.Client)

	cfg, err := fromRaw(raw.Client)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *RawClient) {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 40
	}
	if c.Transport.Type == "" {
		c.Transport.Type = "tcp"
	}
	if c.Transport.ConnectTimeoutSeconds <= 0 {
		c.Transport.ConnectTimeoutSeconds = 10
	}
	if c.Pool.MinTCPChannels <= 0 {
		c.Pool.MinTCPChannels = 2
	}
	if c.Pool.MaxTCPChannels <= 0 {
		c.Pool.MaxTCPChannels = 8
	}
	if c.Pool.IdleTimeoutSeconds <= 0 {
		c.Pool.IdleTimeoutSeconds = 300
	}
	if c.Pool.HealthCheckIntervalSec <= 0 {
		c.Pool.HealthCheckIntervalSec = 30
	}
	if c.Pool.AcquireTimeoutSeconds <= 0 {
		c.Pool.AcquireTimeoutSeconds = 5
	}
	if c.WireGuard.MTU <= 0 {
		c.WireGuard.MTU = 1420
	}
	for i := range c.Services {
		if c.Services[i].Token == "" {
			c.Services[i].Token = c.Token
		}
	}
}
