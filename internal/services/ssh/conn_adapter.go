package ssh

import (
	"net"
	"time"

	"github.com/rathole-go/client/internal/transport"
)

// streamConn adapts a transport.Stream (a plain io.ReadWriteCloser) to
// net.Conn so golang.org/x/crypto/ssh's NewServerConn — which wants a
// net.Conn — can run directly over it. Deadlines and addresses don't mean
// anything for a Noise/WireGuard/WebSocket-backed stream, so those methods
// are harmless no-ops rather than real implementations.
type streamConn struct {
	transport.Stream
}

func (streamConn) LocalAddr() net.Addr             { return noAddr{} }
func (streamConn) RemoteAddr() net.Addr            { return noAddr{} }
func (streamConn) SetDeadline(time.Time) error      { return nil }
func (streamConn) SetReadDeadline(time.Time) error  { return nil }
func (streamConn) SetWriteDeadline(time.Time) error { return nil }

type noAddr struct{}

func (noAddr) Network() string { return "data-channel" }
func (noAddr) String() string  { return "data-channel" }
