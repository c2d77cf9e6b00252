package wgtun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rathole-go/client/internal/rerr"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

const (
	// maxStreams is the live virtual-stream cap (SPEC_FULL.md §4.4): once
	// reached, further connect requests fail with ErrStreamCapExceeded.
	maxStreams = 256
	// connectQueueCap bounds how many pending connect requests the single
	// event-loop goroutine will hold before callers start blocking on submit.
	connectQueueCap = 64
	// connectDeadline is how long one virtual TCP handshake is given to
	// reach the established state.
	connectDeadline = 10 * time.Second
	// tick is the event loop's maintenance interval.
	tick = 250 * time.Millisecond
)

type connectRequest struct {
	ctx    context.Context
	addr   string
	result chan connectResult
}

type connectResult struct {
	stream *Stream
	err    error
}

// Tunnel owns the WireGuard device and netstack handle exclusively: only its
// own event-loop goroutine touches dev/tnet directly. Everything else
// (Connect) communicates with it through the bounded connectQueue, the
// single external access point the design calls for (SPEC_FULL.md §9).
type Tunnel struct {
	dev  *device.Device
	tnet *netstack.Net

	connectQueue chan connectRequest

	mu      sync.Mutex
	live    int
	closed  bool
	closeCh chan struct{}
}

// Start validates cfg, brings up the WireGuard device and its virtual
// netstack, and launches the event loop. The returned Tunnel is ready to
// accept Connect calls immediately; warm-up of the underlying device happens
// synchronously in Start so a caller never races a not-yet-configured peer.
func Start(cfg Config, logf func(format string, args ...any)) (*Tunnel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, rerr.New(rerr.KindVirtual, "wgtun", err)
	}
	dev, tnet, err := newDevice(cfg, logf)
	if err != nil {
		return nil, rerr.New(rerr.KindVirtual, "wgtun", err)
	}
	t := &Tunnel{
		dev:          dev,
		tnet:         tnet,
		connectQueue: make(chan connectRequest, connectQueueCap),
		closeCh:      make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Connect requests a new virtual TCP stream to addr (host:port, a real
// address inside the tunnel's allowed-IPs range). It blocks until the
// event loop has serviced the request or ctx is done.
func (t *Tunnel) Connect(ctx context.Context, addr string) (*Stream, error) {
	req := connectRequest{ctx: ctx, addr: addr, result: make(chan connectResult, 1)}
	select {
	case t.connectQueue <- req:
	case <-ctx.Done():
		return nil, rerr.New(rerr.KindVirtual, addr, ctx.Err())
	case <-t.closeCh:
		return nil, rerr.New(rerr.KindVirtual, addr, fmt.Errorf("wgtun: tunnel closed"))
	}
	select {
	case res := <-req.result:
		if res.err != nil {
			return nil, rerr.New(rerr.KindVirtual, addr, res.err)
		}
		return res.stream, nil
	case <-ctx.Done():
		return nil, rerr.New(rerr.KindVirtual, addr, ctx.Err())
	}
}

// run is the single-owner event loop: one iteration either services a
// queued connect request or runs the periodic maintenance tick, never both
// concurrently. The live-stream count is still guarded by mu, since each
// stream's watchStreamClose goroutine decrements it.
func (t *Tunnel) run() {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case req := <-t.connectQueue:
			t.serviceConnect(req)
		case <-ticker.C:
			t.maintain()
		case <-t.closeCh:
			return
		}
	}
}

func (t *Tunnel) serviceConnect(req connectRequest) {
	t.mu.Lock()
	if t.live >= maxStreams {
		t.mu.Unlock()
		req.result <- connectResult{err: rerr.ErrStreamCapExceeded}
		return
	}
	t.live++
	t.mu.Unlock()

	deadlineCtx, cancel := context.WithTimeout(req.ctx, connectDeadline)
	defer cancel()

	conn, err := t.tnet.DialContext(deadlineCtx, "tcp", req.addr)
	if err != nil {
		t.mu.Lock()
		t.live--
		t.mu.Unlock()
		if deadlineCtx.Err() != nil {
			req.result <- connectResult{err: rerr.ErrVirtualConnectTimeout}
			return
		}
		req.result <- connectResult{err: err}
		return
	}

	stream := newStream(conn)
	go t.watchStreamClose(stream)
	req.result <- connectResult{stream: stream}
}

// watchStreamClose decrements the live count once the stream is closed, so
// a finished virtual connection frees its slot under the cap.
func (t *Tunnel) watchStreamClose(s *Stream) {
	<-s.closed
	t.mu.Lock()
	t.live--
	t.mu.Unlock()
}

func (t *Tunnel) maintain() {
	// Placeholder for periodic device health checks; wireguard-go's device
	// already handles keepalive and rekeying internally.
}

// Close shuts the event loop and the underlying WireGuard device down.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.closeCh)
	t.dev.Close()
	return nil
}
