// Package rerr defines the distinguishable error kinds the client surfaces,
// per the propagation policy in SPEC_FULL.md §7: each kind maps to a
// containment rule (per-data-channel, per-control-channel, fatal) and a
// recognisable log message carrying the governing identifier.
package rerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the buckets the propagation policy
// dispatches on.
type Kind string

const (
	KindWire        Kind = "wire"
	KindAuth        Kind = "auth"
	KindTransport   Kind = "transport"
	KindProtocol    Kind = "protocol"
	KindPool        Kind = "pool"
	KindVirtual     Kind = "virtual"
	KindApplication Kind = "application"
)

// Error is a classified, wrapped error. Callers match on Kind (via As) to
// decide whether a failure is transient (retry/reconnect) or terminal.
type Error struct {
	Kind Kind
	Op   string // governing identifier: service name, remote addr, stream id...
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an op identifier (service name, remote
// address, stream id, channel id — whatever the call site has on hand).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) was classified with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors referenced by the protocol state machine and tests.
var (
	// ErrVersionMismatch: a Hello's version byte did not equal the
	// current protocol version (wire.CurrentProtoVersion). P4.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrAuthFailed: the server rejected the derived session key.
	ErrAuthFailed = errors.New("authentication failed: incorrect token")
	// ErrServiceNotExist: the server has no record of the requested service.
	ErrServiceNotExist = errors.New("service does not exist on server")
	// ErrUnexpectedHello: a Hello of the wrong variant was received.
	ErrUnexpectedHello = errors.New("unexpected hello variant")
	// ErrUnexpectedDataCmd: a data command other than the one being
	// waited for arrived (e.g. StartForwardUdp during TCP pre-warming).
	ErrUnexpectedDataCmd = errors.New("unexpected data channel command")
	// ErrAcquireTimeout: pool.Acquire did not get a channel before its
	// deadline.
	ErrAcquireTimeout = errors.New("pool: acquire timeout")
	// ErrPoolExhausted: the pool is at max_tcp_channels and no permit
	// became available.
	ErrPoolExhausted = errors.New("pool: exhausted")
	// ErrHeartbeatTimeout: no control command arrived within the
	// heartbeat window. P9.
	ErrHeartbeatTimeout = errors.New("control channel: heartbeat timeout")
	// ErrReconnectExhausted: 10 consecutive dial failures. P10.
	ErrReconnectExhausted = errors.New("control channel: reconnect attempts exhausted")
	// ErrStreamCapExceeded: the WireGuard datapath already has 256 live
	// virtual streams.
	ErrStreamCapExceeded = errors.New("wireguard: virtual stream cap exceeded")
	// ErrVirtualConnectTimeout: the virtual TCP handshake did not reach
	// Established within its 10s deadline.
	ErrVirtualConnectTimeout = errors.New("wireguard: virtual connect timeout")
)
