package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rathole-go/client/internal/pool"
	"github.com/rathole-go/client/internal/services/socks5"
	"github.com/rathole-go/client/internal/services/ssh"
	"github.com/rathole-go/client/internal/services/vnc"
	"github.com/rathole-go/client/internal/transport"
	"github.com/rathole-go/client/internal/wgtun"
)

// ClientConfig is the fully decoded, validated configuration the rest of
// the process is built from: base64 keys decoded, CIDRs parsed, durations
// resolved, one ServiceConfig per [[client.services]] entry.
type ClientConfig struct {
	RemoteAddr       string
	ServiceName      string
	Token            string
	HeartbeatTimeout time.Duration

	Transport transport.Config
	Pool      pool.Config
	WireGuard wgtun.Config

	Services []ServiceConfig
}

// ServiceConfig is one locally exposed service: a name, a type, an
// overridable token, and the type-specific sub-config. Exactly one of
// Socks/SSH/VNC is populated, matched to Type.
type ServiceConfig struct {
	Name  string
	Type  string
	Token string

	Socks *socks5.Config
	SSH   *ssh.Config
	VNC   *vnc.Config
}

func fromRaw(c RawClient) (*ClientConfig, error) {
	tr, err := buildTransport(c.Transport)
	if err != nil {
		return nil, err
	}

	wg, err := buildWireGuard(c.WireGuard)
	if err != nil {
		return nil, err
	}

	var services []ServiceConfig
	if len(c.Services) == 0 {
		// Legacy mode: one implicit socks5 service named after
		// client.service_name, configured from the top-level client.socks.
		sc, err := buildService(RawService{
			Name:        c.ServiceName,
			ServiceType: "socks5",
			Token:       c.Token,
			Socks:       c.Socks,
		})
		if err != nil {
			return nil, err
		}
		services = []ServiceConfig{sc}
	} else {
		services = make([]ServiceConfig, 0, len(c.Services))
		for _, rs := range c.Services {
			sc, err := buildService(rs)
			if err != nil {
				return nil, err
			}
			services = append(services, sc)
		}
	}

	return &ClientConfig{
		RemoteAddr:       c.RemoteAddr,
		ServiceName:      c.ServiceName,
		Token:            c.Token,
		HeartbeatTimeout: time.Duration(c.HeartbeatTimeout) * time.Second,
		Transport:        tr,
		Pool: pool.Config{
			MinChannels:         c.Pool.MinTCPChannels,
			MaxChannels:         c.Pool.MaxTCPChannels,
			IdleTimeout:         time.Duration(c.Pool.IdleTimeoutSeconds) * time.Second,
			HealthCheckInterval: time.Duration(c.Pool.HealthCheckIntervalSec) * time.Second,
			AcquireTimeout:      time.Duration(c.Pool.AcquireTimeoutSeconds) * time.Second,
		},
		WireGuard: wg,
		Services:  services,
	}, nil
}

func buildTransport(rt RawTransport) (transport.Config, error) {
	tc := transport.Config{
		Type:                  transport.Kind(rt.Type),
		ConnectTimeoutSeconds: rt.ConnectTimeoutSeconds,
	}
	tc.TCP.NoDelay = rt.TCP.NoDelay
	tc.TCP.KeepAliveIdle = rt.TCP.KeepAliveIdle
	tc.TCP.KeepAliveInterval = rt.TCP.KeepAliveInterval

	tc.WebSocket.URL = rt.WebSocket.URL
	tc.WebSocket.InsecureSkipVerify = rt.WebSocket.InsecureSkipVerify

	tc.Noise.Pattern = rt.Noise.Pattern
	if tc.Type == transport.KindNoise {
		if rt.Noise.LocalPrivateKey != "" {
			local, err := wgtun.DecodeKey("transport.noise.local_private_key", rt.Noise.LocalPrivateKey)
			if err != nil {
				return tc, err
			}
			tc.Noise.LocalPrivateKey = local
		}
		remote, err := wgtun.DecodeKey("transport.noise.remote_public_key", rt.Noise.RemotePublicKey)
		if err != nil {
			return tc, err
		}
		tc.Noise.RemotePublicKey = remote
	}
	return tc, nil
}

func buildWireGuard(rw RawWireGuard) (wgtun.Config, error) {
	wg := wgtun.Config{
		Enabled:                    rw.Enabled,
		PeerEndpoint:               rw.PeerEndpoint,
		PersistentKeepaliveSeconds: uint16(rw.PersistentKeepaliveSeconds),
		MTU:                        rw.MTU,
	}
	if !rw.Enabled {
		return wg, nil
	}

	priv, err := wgtun.DecodeKey("wireguard.private_key", rw.PrivateKey)
	if err != nil {
		return wg, err
	}
	pub, err := wgtun.DecodeKey("wireguard.peer_public_key", rw.PeerPublicKey)
	if err != nil {
		return wg, err
	}
	wg.PrivateKey = priv
	wg.PeerPublicKey = pub

	if rw.PresharedKey != "" {
		psk, err := wgtun.DecodeKey("wireguard.preshared_key", rw.PresharedKey)
		if err != nil {
			return wg, err
		}
		wg.PresharedKey = psk
	}

	addr, err := netip.ParsePrefix(rw.Address)
	if err != nil {
		return wg, fmt.Errorf("wireguard.address: %w", err)
	}
	wg.Address = addr

	allowed := make([]netip.Prefix, 0, len(rw.AllowedIPs))
	for _, s := range rw.AllowedIPs {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return wg, fmt.Errorf("wireguard.allowed_ips: %w", err)
		}
		allowed = append(allowed, p)
	}
	wg.AllowedIPs = allowed

	return wg, nil
}

func buildService(rs RawService) (ServiceConfig, error) {
	sc := ServiceConfig{Name: rs.Name, Type: rs.ServiceType, Token: rs.Token}

	switch rs.ServiceType {
	case "socks5":
		sock := &socks5.Config{UDPAssociateTimeoutSeconds: 120, RequestTimeoutSeconds: 10}
		if rs.Socks != nil {
			sock.RequireAuth = rs.Socks.RequireAuth
			sock.Username = rs.Socks.Username
			sock.Password = rs.Socks.Password
			sock.AllowUDP = rs.Socks.AllowUDP
			sock.DNSResolve = rs.Socks.DNSResolve
			if rs.Socks.RequestTimeoutSeconds > 0 {
				sock.RequestTimeoutSeconds = rs.Socks.RequestTimeoutSeconds
			}
			if rs.Socks.UDPAssociateTimeoutSeconds > 0 {
				sock.UDPAssociateTimeoutSeconds = rs.Socks.UDPAssociateTimeoutSeconds
			}
		}
		sc.Socks = sock

	case "ssh":
		if rs.SSH == nil {
			return sc, fmt.Errorf("config: service %q is type ssh but has no [client.services.ssh] section", rs.Name)
		}
		sc.SSH = &ssh.Config{
			Username:       rs.SSH.Username,
			Password:       rs.SSH.Password,
			AuthorizedKeys: rs.SSH.AuthorizedKeys,
			HostKeyPath:    rs.SSH.HostKeyPath,
			Shell:          rs.SSH.Shell,
		}

	case "vnc":
		if rs.VNC == nil {
			return sc, fmt.Errorf("config: service %q is type vnc but has no [client.services.vnc] section", rs.Name)
		}
		sc.VNC = &vnc.Config{ListenHint: rs.VNC.ListenHint}

	default:
		return sc, fmt.Errorf("config: service %q has unknown service_type %q", rs.Name, rs.ServiceType)
	}

	return sc, nil
}
