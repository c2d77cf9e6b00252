package vnc

import (
	"context"
	"testing"

	"github.com/rathole-go/client/internal/rerr"
)

func TestConfig_Validate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error for empty listen hint")
	}
	if err := (Config{ListenHint: "127.0.0.1:5900"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandler_StreamsReportNotImplemented(t *testing.T) {
	h := New(Config{ListenHint: "127.0.0.1:5900"})

	err := h.HandleTCPStream(context.Background(), nil)
	if !rerr.Is(err, rerr.KindApplication) {
		t.Errorf("HandleTCPStream: err = %v, want KindApplication", err)
	}

	err = h.HandleUDPStream(context.Background(), nil)
	if !rerr.Is(err, rerr.KindApplication) {
		t.Errorf("HandleUDPStream: err = %v, want KindApplication", err)
	}
}

func TestHandler_AlwaysHealthy(t *testing.T) {
	h := New(Config{ListenHint: "x"})
	if !h.IsHealthy() {
		t.Error("expected IsHealthy to always report true")
	}
}
