package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rathole-go/client/internal/transport"
)

// Validate checks the structural rules spec.md §6 names: required fields,
// pool bounds (min <= max, max > 0), a known transport type, wireguard's
// own CIDR/key-length checks, and each service's own Validate().
func (c *ClientConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.RemoteAddr, validation.Required),
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Services, validation.Required),
	); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Transport.Type {
	case transport.KindTCP, transport.KindNoise, transport.KindWebSocket:
	default:
		return fmt.Errorf("config: transport.type %q is not one of tcp, noise, websocket", c.Transport.Type)
	}

	if c.Pool.MaxChannels <= 0 {
		return fmt.Errorf("config: pool.max_tcp_channels must be > 0")
	}
	if c.Pool.MinChannels > c.Pool.MaxChannels {
		return fmt.Errorf("config: pool.min_tcp_channels (%d) must be <= max_tcp_channels (%d)", c.Pool.MinChannels, c.Pool.MaxChannels)
	}

	if err := c.WireGuard.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.WireGuard.Enabled && c.Transport.Type != transport.KindTCP {
		return fmt.Errorf("config: wireguard requires transport.type = tcp, got %q", c.Transport.Type)
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("config: a service entry is missing name")
		}
		if seen[svc.Name] {
			return fmt.Errorf("config: duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		if err := svc.Validate(); err != nil {
			return fmt.Errorf("config: service %q: %w", svc.Name, err)
		}
	}

	return nil
}

// Validate dispatches to the populated sub-config's own Validate().
func (s ServiceConfig) Validate() error {
	switch {
	case s.Socks != nil:
		return s.Socks.Validate()
	case s.SSH != nil:
		return s.SSH.Validate()
	case s.VNC != nil:
		return s.VNC.Validate()
	default:
		return fmt.Errorf("no service config populated for type %q", s.Type)
	}
}
