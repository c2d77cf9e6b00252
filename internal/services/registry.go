// Package services defines the handler contract every proxied service
// (SOCKS5, SSH, VNC) implements, plus a name-to-handler registry
// (SPEC_FULL.md §4.9, §4.11, §4.12).
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rathole-go/client/internal/transport"
)

// Handler processes one data channel's worth of traffic for a service.
// HandleUDPStream and IsHealthy have sensible defaults via Default (embed
// it to get them for free, the way the upstream trait supplies default
// method bodies).
type Handler interface {
	ServiceType() string
	HandleTCPStream(ctx context.Context, stream transport.Stream) error
	HandleUDPStream(ctx context.Context, stream transport.Stream) error
	IsHealthy() bool
	Validate() error
}

// Default implements HandleUDPStream, IsHealthy, and Validate with the
// upstream's own default bodies. Embed it in a handler that doesn't need to
// override them.
type Default struct{ Type string }

func (d Default) ServiceType() string { return d.Type }
func (d Default) HandleUDPStream(ctx context.Context, stream transport.Stream) error {
	return fmt.Errorf("udp not supported for service type: %s", d.Type)
}
func (d Default) IsHealthy() bool  { return true }
func (d Default) Validate() error  { return nil }

// Registry maps service names to their handler, built once at startup from
// the config file. Control channels are handed their handler directly when
// they are built and do not look it up here on CreateDataChannel.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to handler, replacing any prior registration for the
// same name (last write wins, matching the upstream registry's insert
// semantics).
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Get looks up the handler for name, if any.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists every registered service name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Len reports how many services are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
