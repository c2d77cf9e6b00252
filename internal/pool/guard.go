package pool

import (
	"sync"

	"github.com/rathole-go/client/internal/transport"
)

// Guard is scoped ownership over one pooled channel (spec.md §4.5's "pool
// return guard"). Go has no destructors, so unlike the upstream's
// Drop-based RAII, a Guard returns its stream only when Release is called
// explicitly — callers acquiring a Guard must defer Release (or call Take to
// keep the stream permanently) the same way a mutex lock is deferred.
type Guard struct {
	pool   *Pool
	stream transport.Stream

	// once makes Take and Release mutually exclusive and single-shot, so
	// Release called twice or after Take does nothing.
	once sync.Once
	// taken records that Take (not Release) consumed the stream.
	taken bool
}

// Stream returns the underlying transport.Stream for reading/writing. Valid
// until Release or Take is called.
func (g *Guard) Stream() transport.Stream { return g.stream }

// Take detaches the stream from the pool permanently: it will not be
// returned on Release, and the caller owns its lifetime (including Close)
// from this point on. Decrements active_count since the channel has left
// pool bookkeeping for good.
func (g *Guard) Take() transport.Stream {
	g.once.Do(func() {
		g.taken = true
		g.pool.mu.Lock()
		g.pool.active--
		g.pool.mu.Unlock()
	})
	return g.stream
}

// Release returns the channel to the pool's return queue, unless Take was
// already called. If the return queue is full, the channel is dropped and
// closed instead of blocking the caller (spec.md's bounded-return-queue
// policy).
func (g *Guard) Release() {
	g.once.Do(func() {
		select {
		case g.pool.returnCh <- returned{stream: g.stream}:
		default:
			g.stream.Close()
			g.pool.mu.Lock()
			g.pool.active--
			g.pool.mu.Unlock()
		}
	})
}
