// Package control drives one control channel for the lifetime of the
// process: reconnect with bounded backoff, handshake, then the
// CreateDataChannel/HeartBeat command loop (SPEC_FULL.md §4.6).
package control

import "time"

// Config is the client.<service> section of the config file that this
// control channel's reconnect loop reads from.
type Config struct {
	RemoteAddr string
	// ServiceName identifies this control channel to the server; its
	// SHA-256 digest is the control-channel hello's payload.
	ServiceName string
	// Token is hashed with the server's nonce to derive the session key.
	Token string
	// HeartbeatTimeout is how long the command loop waits for any control
	// command before declaring the session dead (default 40s).
	HeartbeatTimeout time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// FreshDialRate and FreshDialBurst bound how fast spawnDataChannel may
	// fall back to dialing a brand new data channel (the pool-miss path):
	// a server issuing CreateDataChannel faster than the pool refills
	// shouldn't be able to drive unbounded concurrent dials.
	FreshDialRate  float64 // dials per second, 0 disables limiting
	FreshDialBurst int
}

// DefaultConfig fills in the reconnect and heartbeat defaults spec.md names.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 40 * time.Second,
		MaxRetries:       10,
		BaseDelay:        1 * time.Second,
		MaxDelay:         60 * time.Second,
		FreshDialRate:    20,
		FreshDialBurst:   5,
	}
}
