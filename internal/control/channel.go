package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rathole-go/client/internal/pool"
	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/services"
	"github.com/rathole-go/client/internal/transport"
	"github.com/rathole-go/client/internal/wire"
)

// ControlChannel owns one authenticated session to the server for a single
// configured service: it reconnects with backoff, re-derives a session key
// on every handshake, and dispatches every CreateDataChannel it receives to
// handler.
type ControlChannel struct {
	cfg      Config
	tr       transport.Transport
	poolCfg  pool.Config
	handler  services.Handler
	logf     func(format string, args ...any)
	dialRate *rate.Limiter
}

// New builds a ControlChannel for one service. poolCfg governs the
// pre-warmed TCP data-channel pool this control channel maintains for the
// lifetime of each session.
func New(cfg Config, tr transport.Transport, poolCfg pool.Config, handler services.Handler, logf func(format string, args ...any)) *ControlChannel {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	var limiter *rate.Limiter
	if cfg.FreshDialRate > 0 {
		burst := cfg.FreshDialBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.FreshDialRate), burst)
	}
	return &ControlChannel{cfg: cfg, tr: tr, poolCfg: poolCfg, handler: handler, logf: logf, dialRate: limiter}
}

// Run drives the reconnect loop until ctx is cancelled or retries are
// exhausted. A clean session close (server EOF after a successful
// handshake) is not an error and ends the loop without retrying
// (SPEC_FULL.md §4.6).
func (c *ControlChannel) Run(ctx context.Context) error {
	retry := 0
	for {
		err := c.runOnce(ctx)
		if err == nil {
			c.logf("control[%s]: closed normally", c.cfg.ServiceName)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		retry++
		if retry >= c.cfg.MaxRetries {
			return rerr.New(rerr.KindTransport, c.cfg.ServiceName, fmt.Errorf("%w: %v", rerr.ErrReconnectExhausted, err))
		}

		delay := backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, retry)
		c.logf("control[%s]: error: %v, reconnecting in %s (attempt %d/%d)", c.cfg.ServiceName, err, delay, retry, c.cfg.MaxRetries)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// backoff implements delay = min(base * 2^(n-1), maxDelay).
func backoff(base, maxDelay time.Duration, n int) time.Duration {
	d := base << (n - 1)
	if d <= 0 || d > maxDelay { // overflow or over cap
		return maxDelay
	}
	return d
}

func (c *ControlChannel) runOnce(ctx context.Context) error {
	sessionID := uuid.NewString()
	remoteAddr := transport.NewCachedAddr(c.cfg.RemoteAddr)

	c.logf("control[%s][%s]: connecting to %s", c.cfg.ServiceName, sessionID, c.cfg.RemoteAddr)
	conn, err := c.tr.Connect(ctx, remoteAddr)
	if err != nil {
		return rerr.New(rerr.KindTransport, c.cfg.ServiceName, fmt.Errorf("connect: %w", err))
	}
	defer conn.Close()
	c.tr.Hint(conn, transport.ForControlChannel())

	sessionKey, err := c.handshake(conn)
	if err != nil {
		return rerr.New(rerr.KindAuth, c.cfg.ServiceName, err)
	}
	c.logf("control[%s][%s]: handshake complete, using handler %s", c.cfg.ServiceName, sessionID, c.handler.ServiceType())

	p := pool.New(c.poolCfg, c.tr, remoteAddr, sessionKey, c.logf)
	defer p.Close()

	return c.handleCommands(ctx, conn, p, remoteAddr, sessionKey)
}

// handshake runs the ControlChannelHello → nonce → Auth → Ack exchange and
// returns the derived session key.
func (c *ControlChannel) handshake(conn transport.Stream) (wire.Digest, error) {
	if err := wire.WriteHello(conn, wire.ControlHello(c.cfg.ServiceName)); err != nil {
		return wire.Digest{}, fmt.Errorf("write control hello: %w", err)
	}

	serverHello, err := wire.ReadHello(conn)
	if err != nil {
		return wire.Digest{}, fmt.Errorf("read server hello: %w", err)
	}
	if serverHello.Kind != wire.HelloControl {
		return wire.Digest{}, rerr.ErrUnexpectedHello
	}
	nonce := serverHello.Digest

	sessionKey := wire.SessionKey(c.cfg.Token, nonce)
	if err := wire.WriteAuth(conn, wire.Auth{SessionKey: sessionKey}); err != nil {
		return wire.Digest{}, fmt.Errorf("write auth: %w", err)
	}

	ack, err := wire.ReadAck(conn)
	if err != nil {
		return wire.Digest{}, fmt.Errorf("read ack: %w", err)
	}
	switch ack {
	case wire.AckOk:
		return sessionKey, nil
	case wire.AckServiceNotExist:
		return wire.Digest{}, rerr.ErrServiceNotExist
	default:
		return wire.Digest{}, rerr.ErrAuthFailed
	}
}

// handleCommands is the command loop: select between the next control
// command and the heartbeat timer, resetting the timer on every command
// received (a command of either kind counts as liveness).
func (c *ControlChannel) handleCommands(ctx context.Context, conn transport.Stream, p *pool.Pool, remoteAddr *transport.CachedAddr, sessionKey wire.Digest) error {
	type cmdResult struct {
		cmd wire.ControlCmd
		err error
	}
	cmdCh := make(chan cmdResult, 1)

	readNext := func() {
		cmd, err := wire.ReadControlCmd(conn)
		cmdCh <- cmdResult{cmd, err}
	}
	go readNext()

	timer := time.NewTimer(c.cfg.HeartbeatTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-cmdCh:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read control command: %w", res.err)
			}

			switch res.cmd {
			case wire.CreateDataChannel:
				c.logf("control[%s]: CreateDataChannel", c.cfg.ServiceName)
				go c.spawnDataChannel(ctx, p, remoteAddr, sessionKey)
			case wire.HeartBeat:
				c.logf("control[%s]: heartbeat", c.cfg.ServiceName)
			}

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.cfg.HeartbeatTimeout)
			go readNext()

		case <-timer.C:
			return fmt.Errorf("%w (%s)", rerr.ErrHeartbeatTimeout, c.cfg.HeartbeatTimeout)
		}
	}
}
