// Package vnc is a stub service handler: it satisfies the dispatch
// capability set for service_type "vnc" so the registry and config surface
// are complete, but framebuffer capture and RFB encoding are out of scope
// (SPEC_FULL.md §4.12) — both stream handlers report a distinguishable
// "not implemented" application error instead of doing any forwarding.
package vnc

import (
	"context"
	"fmt"

	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/transport"
)

// Config is the client.services[].vnc section (spec.md §6). ListenHint is
// the only field validated: a VNC entry with nothing configured to listen
// against is rejected at load time even though capture itself is unbuilt.
type Config struct {
	ListenHint string
}

func (c Config) Validate() error {
	if c.ListenHint == "" {
		return errNoListenTarget
	}
	return nil
}

type Handler struct {
	cfg Config
}

func New(cfg Config) *Handler { return &Handler{cfg: cfg} }

func (h *Handler) ServiceType() string { return "vnc" }
func (h *Handler) IsHealthy() bool     { return true }
func (h *Handler) Validate() error     { return h.cfg.Validate() }

func (h *Handler) HandleTCPStream(ctx context.Context, stream transport.Stream) error {
	return rerr.New(rerr.KindApplication, "vnc", fmt.Errorf("vnc capture not implemented"))
}

func (h *Handler) HandleUDPStream(ctx context.Context, stream transport.Stream) error {
	return rerr.New(rerr.KindApplication, "vnc", fmt.Errorf("vnc capture not implemented"))
}
