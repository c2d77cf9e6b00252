package transport

import (
	"context"
	"fmt"

	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/wgtun"
)

// WireGuardTransport defers entirely to the wgtun event loop (§4.4): it
// holds no connection state of its own, since every virtual TCP stream is
// multiplexed through the single WireGuard device the tunnel owns.
type WireGuardTransport struct {
	tunnel *wgtun.Tunnel
}

// NewWireGuardTransport starts the WireGuard datapath and wraps it as a
// Transport. logf receives the device's internal diagnostic log lines.
func NewWireGuardTransport(cfg wgtun.Config, logf func(format string, args ...any)) (*WireGuardTransport, error) {
	tunnel, err := wgtun.Start(cfg, logf)
	if err != nil {
		return nil, err
	}
	return &WireGuardTransport{tunnel: tunnel}, nil
}

func (t *WireGuardTransport) Connect(ctx context.Context, addr *CachedAddr) (Stream, error) {
	stream, err := t.tunnel.Connect(ctx, addr.String())
	if err != nil {
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("wireguard connect: %w", err))
	}
	return stream, nil
}

// Hint is a no-op: virtual streams have no OS socket to tune.
func (t *WireGuardTransport) Hint(conn Stream, opts SocketOpts) {}

// Close tears down the underlying WireGuard device.
func (t *WireGuardTransport) Close() error {
	return t.tunnel.Close()
}
