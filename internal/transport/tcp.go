package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rathole-go/client/internal/rerr"
)

// TCPTransport is the plain-TCP variant: dial, apply socket options, done.
// The other variants do not use it; each dials its own connection.
type TCPTransport struct {
	opts           SocketOpts
	connectTimeout time.Duration
}

// NewTCPTransport builds a TCPTransport from config.TCP.
func NewTCPTransport(cfg Config) *TCPTransport {
	idle := time.Duration(cfg.TCP.KeepAliveIdle) * time.Second
	interval := time.Duration(cfg.TCP.KeepAliveInterval) * time.Second
	if idle == 0 {
		idle = 20 * time.Second
	}
	if interval == 0 {
		interval = 8 * time.Second
	}
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &TCPTransport{
		opts:           SocketOpts{NoDelay: cfg.TCP.NoDelay, KeepAliveIdle: idle, KeepAliveInterval: interval},
		connectTimeout: timeout,
	}
}

func (t *TCPTransport) Connect(ctx context.Context, addr *CachedAddr) (Stream, error) {
	resolved, err := addr.Resolve(ctx)
	if err != nil {
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("resolve: %w", err))
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", resolved.String())
	if err != nil {
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("dial: %w", err))
	}
	if err := t.opts.Apply(conn); err != nil {
		conn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("apply socket opts: %w", err))
	}
	return conn, nil
}

func (t *TCPTransport) Hint(conn Stream, opts SocketOpts) {
	nc, ok := conn.(net.Conn)
	if !ok {
		return
	}
	_ = opts.Apply(nc) // best-effort hint; callers log if they care
}
