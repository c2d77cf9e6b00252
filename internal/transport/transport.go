package transport

import (
	"context"
	"io"
)

// Stream is the duplex byte connection every transport variant produces.
// WireGuard's virtual streams and gorilla/websocket's message-framed
// connections are both adapted down to this contract (SPEC_FULL.md §4.10).
type Stream interface {
	io.ReadWriteCloser
}

// Transport is the polymorphic contract every variant (Tcp, Noise,
// WebSocket, WireGuard) implements. A Transport is constructed once from
// config and reused across every control- and data-channel connection for
// the lifetime of the process.
type Transport interface {
	// Connect dials addr and returns an established Stream, running
	// whatever handshake the variant requires (Noise, WireGuard) before
	// returning.
	Connect(ctx context.Context, addr *CachedAddr) (Stream, error)

	// Hint applies best-effort socket tuning to conn. A no-op on variants
	// where the concept doesn't apply (Noise, WireGuard, WebSocket).
	Hint(conn Stream, opts SocketOpts)
}

// Kind names a transport variant, used in config and logs.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindNoise     Kind = "noise"
	KindWebSocket Kind = "websocket"
	KindWireGuard Kind = "wireguard"
)

// Config carries every variant's settings; only the fields matching
// config.Type are consulted when constructing a Transport.
type Config struct {
	Type Kind

	TCP struct {
		NoDelay           bool
		KeepAliveIdle     int // seconds
		KeepAliveInterval int // seconds
	}

	Noise struct {
		Pattern         string
		LocalPrivateKey []byte // 32 bytes, decoded from base64 by the config loader
		RemotePublicKey []byte // 32 bytes
	}

	WebSocket struct {
		URL                string
		InsecureSkipVerify bool
	}

	ConnectTimeoutSeconds int
}
