package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/transport"
	"github.com/rathole-go/client/internal/wire"
)

// Config mirrors client.pool in the config file (SPEC_FULL.md §6).
type Config struct {
	MinChannels         int
	MaxChannels         int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
}

// entry is one pooled, idle data channel: an authenticated stream plus the
// bookkeeping needed to evict it once it's gone stale.
type entry struct {
	stream    transport.Stream
	createdAt time.Time
	lastUsed  time.Time
}

func (e *entry) isStale(idleTimeout time.Duration) bool {
	return time.Since(e.lastUsed) > idleTimeout
}

func (e *entry) touch() { e.lastUsed = time.Now() }

// returned is what a Guard hands back to the pool's return handler.
type returned struct {
	stream transport.Stream
}

// Pool is a pre-warmed, bounded set of authenticated data channels dialed
// through transport to remoteAddr, each tagged with sessionKey so the server
// accepts it as belonging to this control channel (SPEC_FULL.md §4.5).
type Pool struct {
	cfg         Config
	tr          transport.Transport
	remoteAddr  *transport.CachedAddr
	sessionKey  wire.Digest

	mu        sync.Mutex
	available *list.List // of *entry, front = oldest
	active    int        // pooled + currently held by a Guard

	createSem chan struct{} // bounded concurrent-creation permits, sized MaxChannels
	notify    chan struct{} // best-effort wakeup for acquire waiters
	returnCh  chan returned

	stats Stats

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New constructs a Pool, warms it up to cfg.MinChannels, and starts its
// return-handler and maintenance goroutines. Warm-up failures are logged by
// the caller via logf but never fail construction — a pool that starts empty
// still creates channels on demand.
func New(cfg Config, tr transport.Transport, remoteAddr *transport.CachedAddr, sessionKey wire.Digest, logf func(format string, args ...any)) *Pool {
	p := &Pool{
		cfg:        cfg,
		tr:         tr,
		remoteAddr: remoteAddr,
		sessionKey: sessionKey,
		available:  list.New(),
		createSem:  make(chan struct{}, cfg.MaxChannels),
		notify:     make(chan struct{}, 1),
		returnCh:   make(chan returned, cfg.MaxChannels),
		closeCh:    make(chan struct{}),
	}

	go p.runReturnHandler()

	var wg sync.WaitGroup
	for i := 0; i < cfg.MinChannels; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.createChannel(context.Background()); err != nil {
				logf("pool: warm-up channel failed: %v", err)
			}
		}()
	}
	wg.Wait()

	go p.runMaintenance(logf)

	return p
}

// createChannel dials one fresh data channel and appends it to available.
// It's a no-op, not an error, if the pool is already at capacity — the
// semaphore only bounds concurrent dials in flight, not the decision to dial
// at all, so callers racing on capacity just return early.
func (p *Pool) createChannel(ctx context.Context) error {
	p.mu.Lock()
	if p.active >= p.cfg.MaxChannels {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case p.createSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.createSem }()

	p.mu.Lock()
	if p.active >= p.cfg.MaxChannels {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	stream, err := p.establishDataChannel(ctx)
	if err != nil {
		return rerr.New(rerr.KindPool, "create_channel", err)
	}

	now := time.Now()
	p.mu.Lock()
	p.available.PushBack(&entry{stream: stream, createdAt: now, lastUsed: now})
	p.active++
	p.stats.recordCreated()
	p.stats.setPooledCount(p.available.Len())
	p.mu.Unlock()

	p.wake()
	return nil
}

// establishDataChannel dials remoteAddr, applies the data-channel socket
// hint, sends a data-channel Hello, and waits for the server's
// StartForwardTcp command before handing the stream back (spec.md §4.5).
func (p *Pool) establishDataChannel(ctx context.Context) (transport.Stream, error) {
	conn, err := p.tr.Connect(ctx, p.remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p.tr.Hint(conn, transport.ForDataChannel())

	if err := wire.WriteHello(conn, wire.DataHello(p.sessionKey)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write data hello: %w", err)
	}
	cmd, err := wire.ReadDataCmd(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read data cmd: %w", err)
	}
	if cmd != wire.StartForwardTcp {
		conn.Close()
		return nil, fmt.Errorf("%w: got %s", rerr.ErrUnexpectedDataCmd, cmd)
	}
	return conn, nil
}

// TryAcquire returns a pooled Guard immediately, or nil if the available
// queue is empty. Unlike Acquire it never triggers a new dial and never
// blocks — callers with a fresh-dial fallback use this for the fast path.
func (p *Pool) TryAcquire() *Guard {
	return p.tryTake()
}

// Acquire returns a Guard wrapping an authenticated data channel, blocking
// under cfg.AcquireTimeout if none is immediately available (P6).
func (p *Pool) Acquire(ctx context.Context) (*Guard, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)

	for {
		if g := p.tryTake(); g != nil {
			return g, nil
		}

		p.mu.Lock()
		underCap := p.active < p.cfg.MaxChannels
		p.mu.Unlock()
		if underCap {
			if err := p.createChannel(ctx); err != nil {
				return nil, err
			}
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rerr.New(rerr.KindPool, "acquire", rerr.ErrAcquireTimeout)
		}
		timer := time.NewTimer(remaining)
		select {
		case <-p.notify:
			timer.Stop()
		case <-timer.C:
			return nil, rerr.New(rerr.KindPool, "acquire", rerr.ErrAcquireTimeout)
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.closeCh:
			timer.Stop()
			return nil, rerr.New(rerr.KindPool, "acquire", fmt.Errorf("pool closed"))
		}
	}
}

// tryTake evicts stale entries from the front of available, then pops and
// wraps the first live one (P5, P8).
func (p *Pool) tryTake() *Guard {
	p.mu.Lock()
	defer p.mu.Unlock()

	for e := p.available.Front(); e != nil; e = p.available.Front() {
		ent := e.Value.(*entry)
		if ent.isStale(p.cfg.IdleTimeout) {
			p.available.Remove(e)
			ent.stream.Close()
			p.active--
			p.stats.recordExpired()
			continue
		}
		break
	}

	front := p.available.Front()
	if front == nil {
		return nil
	}
	ent := front.Value.(*entry)
	p.available.Remove(front)
	ent.touch()
	p.stats.setPooledCount(p.available.Len())
	p.stats.recordAcquired()

	return &Guard{pool: p, stream: ent.stream}
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// runReturnHandler is the dedicated goroutine that drains returnCh: every
// explicit Guard.Release funnels through here rather than mutating available
// directly from arbitrary goroutines. A Guard that is never released (and
// never taken) is not returned.
func (p *Pool) runReturnHandler() {
	for {
		select {
		case r := <-p.returnCh:
			p.mu.Lock()
			if p.available.Len() >= p.cfg.MaxChannels {
				p.mu.Unlock()
				r.stream.Close()
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				continue
			}
			now := time.Now()
			p.available.PushBack(&entry{stream: r.stream, createdAt: now, lastUsed: now})
			p.stats.recordReturned()
			p.stats.setPooledCount(p.available.Len())
			p.mu.Unlock()
			p.wake()
		case <-p.closeCh:
			return
		}
	}
}

func (p *Pool) runMaintenance(logf func(format string, args ...any)) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.maintain(logf)
		case <-p.closeCh:
			return
		}
	}
}

func (p *Pool) maintain(logf func(format string, args ...any)) {
	p.mu.Lock()
	current := p.available.Len()
	p.mu.Unlock()

	if current < p.cfg.MinChannels {
		needed := p.cfg.MinChannels - current
		for i := 0; i < needed; i++ {
			if err := p.createChannel(context.Background()); err != nil {
				logf("pool: replenish failed: %v", err)
			}
		}
	}
	logf("%s", p.stats.Snapshot())
}

// Stats returns the pool's live counters.
func (p *Pool) Stats() Snapshot { return p.stats.Snapshot() }

// Close stops the maintenance loop and the return handler. It does not close
// idle pooled channels or channels checked out via a Guard; a Guard released
// after Close is not put back into the available queue.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.closeCh) })
}
