package transport

import (
	"net"
	"time"
)

// SocketOpts carries the TCP-level tuning applied to a freshly dialed
// connection. Control and data channels use different profiles: the control
// channel favors a longer keepalive since it's idle between heartbeats,
// while the data channel favors a shorter one since it's expected to be
// carrying a steady stream.
type SocketOpts struct {
	NoDelay           bool
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
}

// ForControlChannel returns the tuning the control channel dials with.
func ForControlChannel() SocketOpts {
	return SocketOpts{NoDelay: true, KeepAliveIdle: 30 * time.Second, KeepAliveInterval: 10 * time.Second}
}

// ForDataChannel returns the tuning a data channel dials with.
func ForDataChannel() SocketOpts {
	return SocketOpts{NoDelay: true, KeepAliveIdle: 20 * time.Second, KeepAliveInterval: 8 * time.Second}
}

// Apply sets opts on conn if it's a *net.TCPConn. Non-TCP streams (Noise
// over TCP still unwraps to one; WireGuard's virtual streams don't) silently
// no-op, matching hint()'s role as a best-effort hardware hint rather than a
// required step.
func (o SocketOpts) Apply(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(o.NoDelay); err != nil {
		return err
	}
	return tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     o.KeepAliveIdle,
		Interval: o.KeepAliveInterval,
	})
}
