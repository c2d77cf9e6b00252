package wgtun

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

// newDevice brings up the real WireGuard crypto/UDP machinery (device.Device)
// over a gVisor-backed virtual TUN (netstack.CreateNetTUN), and returns the
// netstack.Net handle used to dial virtual TCP connections through the
// tunnel. No OS TUN device is ever created — everything here is in-process,
// matching the "no TUN/TAP device" architecture the upstream tunnel
// documents.
func newDevice(cfg Config, logf func(format string, args ...any)) (*device.Device, *netstack.Net, error) {
	tunDev, tnet, err := netstack.CreateNetTUN(
		[]netip.Addr{cfg.Address.Addr()},
		[]netip.Addr{}, // no virtual DNS resolution; the client resolves real addresses itself
		cfg.MTU,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("wgtun: create netstack tun: %w", err)
	}

	logger := &device.Logger{
		Verbosef: func(format string, args ...any) {
			if logf != nil {
				logf("wgtun: "+format, args...)
			}
		},
		Errorf: func(format string, args ...any) {
			if logf != nil {
				logf("wgtun error: "+format, args...)
			}
		},
	}

	dev := device.NewDevice(tunDev, conn.NewDefaultBind(), logger)

	if err := dev.IpcSet(uapiConfig(cfg)); err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("wgtun: configure device: %w", err)
	}
	if err := dev.Up(); err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("wgtun: bring device up: %w", err)
	}

	return dev, tnet, nil
}

// uapiConfig renders cfg as the UAPI configuration protocol wireguard-go's
// Device.IpcSet expects: one "key=value" pair per line.
func uapiConfig(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", hexKey(cfg.PrivateKey))
	fmt.Fprintf(&b, "public_key=%s\n", hexKey(cfg.PeerPublicKey))
	fmt.Fprintf(&b, "endpoint=%s\n", cfg.PeerEndpoint)
	if cfg.PresharedKey != nil {
		fmt.Fprintf(&b, "preshared_key=%s\n", hexKey(cfg.PresharedKey))
	}
	if cfg.PersistentKeepaliveSeconds > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", cfg.PersistentKeepaliveSeconds)
	}
	for _, allowed := range cfg.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", allowed.String())
	}
	return b.String()
}
