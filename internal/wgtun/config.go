// Package wgtun hosts the userspace WireGuard datapath: a single-owner
// event loop bridging a real UDP socket (via golang.zx2c4.com/wireguard's
// device.Device) to a virtual, netstack-backed TCP/IP stack, with the
// bespoke orchestration on top — bounded live-stream count, a bounded
// connect-request queue, and a periodic maintenance tick — that the rest of
// this client depends on (SPEC_FULL.md §4.4).
package wgtun

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"strings"
)

// Config is the parsed [client.wireguard] section. When enabled, the
// WireGuard transport replaces the configured transport outright; the config
// loader still requires client.transport.type to be "tcp" (layering Noise on
// top would double-encrypt). Validate itself does not check the transport
// type.
type Config struct {
	Enabled bool

	PrivateKey   []byte // 32 bytes
	PeerPublicKey []byte // 32 bytes
	PresharedKey []byte // 32 bytes, optional

	PeerEndpoint string // host:port, real network address of the peer

	PersistentKeepaliveSeconds uint16 // 0 disables

	Address    netip.Prefix   // this client's virtual address, e.g. 10.0.0.2/24
	AllowedIPs []netip.Prefix // e.g. 10.0.0.0/24

	MTU int
}

// DecodeKey decodes a base64-encoded 32-byte WireGuard key (private, public,
// or preshared), the shape every key in this config shares.
func DecodeKey(field, b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", field, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s: must decode to 32 bytes, got %d", field, len(key))
	}
	return key, nil
}

// Validate checks the invariants the upstream config surface already
// documents: when disabled, no field is consulted and validation is a no-op.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.PrivateKey) != 32 {
		return fmt.Errorf("wireguard: private_key must be 32 bytes")
	}
	if len(c.PeerPublicKey) != 32 {
		return fmt.Errorf("wireguard: peer_public_key must be 32 bytes")
	}
	if c.PresharedKey != nil && len(c.PresharedKey) != 32 {
		return fmt.Errorf("wireguard: preshared_key must be 32 bytes")
	}
	if strings.TrimSpace(c.PeerEndpoint) == "" {
		return fmt.Errorf("wireguard: peer_endpoint is required")
	}
	if !c.Address.IsValid() {
		return fmt.Errorf("wireguard: address must be a valid CIDR")
	}
	if len(c.AllowedIPs) == 0 {
		return fmt.Errorf("wireguard: allowed_ips must not be empty")
	}
	if c.MTU <= 0 {
		return fmt.Errorf("wireguard: mtu must be positive")
	}
	return nil
}

// hexKey renders a key the way wireguard-go's UAPI configuration protocol
// expects: lowercase hex, no separators.
func hexKey(key []byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(key)*2)
	for i, b := range key {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}
