package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rathole-go/client/internal/pool"
	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/wire"
)

// ---- backoff ---------------------------------------------------------

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, 60 * time.Second}, // 64s would exceed max
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		got := backoff(base, max, tc.n)
		if got != tc.want {
			t.Errorf("backoff(n=%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

// ---- handshake ---------------------------------------------------------

func TestHandshake_Success(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	const token = "secret"
	nonce := wire.Sum([]byte("nonce-material"))

	go func() {
		h, err := wire.ReadHello(server)
		if err != nil || h.Kind != wire.HelloControl {
			return
		}
		wire.WriteHello(server, wire.Hello{Kind: wire.HelloControl, Version: wire.CurrentProtoVersion, Digest: nonce})
		auth, err := wire.ReadAuth(server)
		if err != nil {
			return
		}
		want := wire.SessionKey(token, nonce)
		if auth.SessionKey != want {
			wire.WriteAck(server, wire.AckAuthFailed)
			return
		}
		wire.WriteAck(server, wire.AckOk)
	}()

	c := &ControlChannel{cfg: Config{ServiceName: "test", Token: token}, logf: func(string, ...any) {}}
	key, err := c.handshake(client)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if key != wire.SessionKey(token, nonce) {
		t.Errorf("session key mismatch")
	}
}

func TestHandshake_AuthFailed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		wire.ReadHello(server)
		wire.WriteHello(server, wire.Hello{Kind: wire.HelloControl, Version: wire.CurrentProtoVersion, Digest: wire.Sum([]byte("n"))})
		wire.ReadAuth(server)
		wire.WriteAck(server, wire.AckAuthFailed)
	}()

	c := &ControlChannel{cfg: Config{ServiceName: "test", Token: "secret"}, logf: func(string, ...any) {}}
	_, err := c.handshake(client)
	if err != rerr.ErrAuthFailed {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestHandshake_ServiceNotExist(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		wire.ReadHello(server)
		wire.WriteHello(server, wire.Hello{Kind: wire.HelloControl, Version: wire.CurrentProtoVersion, Digest: wire.Sum([]byte("n"))})
		wire.ReadAuth(server)
		wire.WriteAck(server, wire.AckServiceNotExist)
	}()

	c := &ControlChannel{cfg: Config{ServiceName: "test", Token: "secret"}, logf: func(string, ...any) {}}
	_, err := c.handshake(client)
	if err != rerr.ErrServiceNotExist {
		t.Fatalf("err = %v, want ErrServiceNotExist", err)
	}
}

// ---- command loop --------------------------------------------------------

func emptyPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{
		MinChannels:         0,
		MaxChannels:         0,
		IdleTimeout:         time.Minute,
		HealthCheckInterval: time.Hour,
		AcquireTimeout:      time.Second,
	}, nil, nil, wire.Digest{}, func(string, ...any) {})
	t.Cleanup(p.Close)
	return p
}

func TestHandleCommands_HeartbeatResetsTimer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &ControlChannel{
		cfg:  Config{ServiceName: "test", HeartbeatTimeout: 50 * time.Millisecond},
		logf: func(string, ...any) {},
	}
	p := emptyPool(t)

	done := make(chan error, 1)
	go func() { done <- c.handleCommands(context.Background(), client, p, nil, wire.Digest{}) }()

	// Send two heartbeats spaced under the timeout, then stop: the loop
	// should die of heartbeat timeout, not immediately.
	start := time.Now()
	wire.WriteControlCmd(server, wire.HeartBeat)
	time.Sleep(20 * time.Millisecond)
	wire.WriteControlCmd(server, wire.HeartBeat)

	err := <-done
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected heartbeat timeout error")
	}
	if elapsed < 60*time.Millisecond {
		t.Errorf("loop died too early (%s); heartbeats should have reset the timer", elapsed)
	}
}

func TestHandleCommands_EOFEndsCleanly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := &ControlChannel{
		cfg:  Config{ServiceName: "test", HeartbeatTimeout: time.Second},
		logf: func(string, ...any) {},
	}
	p := emptyPool(t)

	server.Close() // immediate EOF on the client's reads

	err := c.handleCommands(context.Background(), client, p, nil, wire.Digest{})
	if err != nil {
		t.Fatalf("EOF should end the loop cleanly, got %v", err)
	}
}
