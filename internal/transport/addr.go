// Package transport implements the pluggable connection layer the control
// and data channels dial through: a common Transport contract (new/connect/
// hint) with Tcp, Noise, WebSocket and WireGuard variants, plus a
// DNS-caching address wrapper shared by all of them (SPEC_FULL.md §4.3,
// §4.10).
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// CachedAddr holds an address string and lazily resolves it to a
// net.Addr, caching the result so repeated connects through the same
// CachedAddr skip the DNS lookup. Invalidate clears the cache on request;
// nothing clears it automatically when a dial fails. The control channel
// builds a new CachedAddr for every session, so each reconnect attempt
// resolves the address afresh.
type CachedAddr struct {
	addr string

	mu     sync.RWMutex
	cached net.Addr
}

// NewCachedAddr wraps addr with no pre-resolved value.
func NewCachedAddr(addr string) *CachedAddr {
	return &CachedAddr{addr: addr}
}

// WithCached wraps addr with an already-resolved value, skipping the first
// DNS lookup.
func WithCached(addr string, resolved net.Addr) *CachedAddr {
	return &CachedAddr{addr: addr, cached: resolved}
}

// String returns the original, unresolved address string.
func (a *CachedAddr) String() string { return a.addr }

// Cached returns the cached resolution, if any.
func (a *CachedAddr) Cached() net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cached
}

// Invalidate clears the cached resolution, forcing the next Resolve to hit
// DNS again.
func (a *CachedAddr) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Resolve returns the cached address if present, otherwise performs a fresh
// DNS lookup and caches the first result.
func (a *CachedAddr) Resolve(ctx context.Context) (net.Addr, error) {
	if cached := a.Cached(); cached != nil {
		return cached, nil
	}
	resolved, err := a.resolveFresh(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.cached = resolved
	a.mu.Unlock()
	return resolved, nil
}

func (a *CachedAddr) resolveFresh(ctx context.Context) (net.Addr, error) {
	host, port, err := net.SplitHostPort(a.addr)
	if err != nil {
		return nil, fmt.Errorf("split host/port %q: %w", a.addr, err)
	}
	var resolver net.Resolver
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", a.addr, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", a.addr)
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: mustAtoi(port), Zone: ips[0].Zone}, nil
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
