package control

import (
	"context"
	"fmt"

	"github.com/rathole-go/client/internal/pool"
	"github.com/rathole-go/client/internal/transport"
	"github.com/rathole-go/client/internal/wire"
)

// spawnDataChannel services one CreateDataChannel command. It first tries a
// non-blocking pool acquisition — the pool only ever holds TCP-forward
// channels (SPEC_FULL.md §4.5), so this is the fast path for the common
// case. If nothing is pooled it falls back to dialing, handshaking, and
// reading the data command fresh, exactly as the upstream client always
// does; that path is also the only one that can ever observe
// StartForwardUdp, since the pool discards (and never re-offers) any
// channel whose command turns out not to be StartForwardTcp.
func (c *ControlChannel) spawnDataChannel(ctx context.Context, p *pool.Pool, remoteAddr *transport.CachedAddr, sessionKey wire.Digest) {
	if guard := p.TryAcquire(); guard != nil {
		stream := guard.Take()
		defer stream.Close()
		if err := c.dispatch(ctx, stream, wire.StartForwardTcp); err != nil {
			c.logf("control[%s]: pooled data channel error: %v", c.cfg.ServiceName, err)
		}
		return
	}

	if c.dialRate != nil {
		if err := c.dialRate.Wait(ctx); err != nil {
			c.logf("control[%s]: fresh dial rate wait aborted: %v", c.cfg.ServiceName, err)
			return
		}
	}

	stream, cmd, err := dialFreshDataChannel(ctx, c.tr, remoteAddr, sessionKey)
	if err != nil {
		c.logf("control[%s]: data channel dial failed: %v", c.cfg.ServiceName, err)
		return
	}
	defer stream.Close()

	if err := c.dispatch(ctx, stream, cmd); err != nil {
		c.logf("control[%s]: data channel error: %v", c.cfg.ServiceName, err)
	}
}

// dialFreshDataChannel connects, applies the data-channel socket hint,
// sends the data-channel hello, and reads whichever command the server
// sends back — mirroring the upstream client's run_data_channel, which
// never assumes TCP in advance.
func dialFreshDataChannel(ctx context.Context, tr transport.Transport, remoteAddr *transport.CachedAddr, sessionKey wire.Digest) (transport.Stream, wire.DataCmd, error) {
	conn, err := tr.Connect(ctx, remoteAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("connect: %w", err)
	}
	tr.Hint(conn, transport.ForDataChannel())

	if err := wire.WriteHello(conn, wire.DataHello(sessionKey)); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("write data hello: %w", err)
	}
	cmd, err := wire.ReadDataCmd(conn)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("read data cmd: %w", err)
	}
	return conn, cmd, nil
}

// dispatch routes stream to the handler's TCP or UDP path per cmd.
func (c *ControlChannel) dispatch(ctx context.Context, stream transport.Stream, cmd wire.DataCmd) error {
	switch cmd {
	case wire.StartForwardTcp:
		return c.handler.HandleTCPStream(ctx, stream)
	case wire.StartForwardUdp:
		return c.handler.HandleUDPStream(ctx, stream)
	default:
		return fmt.Errorf("unknown data command %s", cmd)
	}
}
