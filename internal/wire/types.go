package wire

import "fmt"

// CurrentProtoVersion is the only protocol version this client speaks.
const CurrentProtoVersion uint8 = 1

// HelloKind discriminates the two Hello variants.
type HelloKind uint32

const (
	// HelloControl labels a control-channel hello: digest = sha256(service name).
	HelloControl HelloKind = iota
	// HelloData labels a data-channel hello: digest = session key.
	HelloData
)

// Hello is the first message sent when establishing either a control or a
// data channel. Both variants share the same encoded length (4-byte kind
// tag + 1-byte version + 32-byte digest) so the reader can pre-size its
// buffer without first knowing which variant is coming.
type Hello struct {
	Kind    HelloKind
	Version uint8
	Digest  Digest
}

// ControlHello builds a control-channel Hello for serviceName.
func ControlHello(serviceName string) Hello {
	return Hello{Kind: HelloControl, Version: CurrentProtoVersion, Digest: Sum([]byte(serviceName))}
}

// DataHello builds a data-channel Hello carrying the session key.
func DataHello(sessionKey Digest) Hello {
	return Hello{Kind: HelloData, Version: CurrentProtoVersion, Digest: sessionKey}
}

// Auth is sent by the client after it receives the server's nonce; it wraps
// the derived session key.
type Auth struct {
	SessionKey Digest
}

// Ack is the server's reply to Auth.
type Ack uint32

const (
	AckOk Ack = iota
	AckServiceNotExist
	AckAuthFailed
)

func (a Ack) String() string {
	switch a {
	case AckOk:
		return "Ok"
	case AckServiceNotExist:
		return "Service not exist"
	case AckAuthFailed:
		return "Incorrect token"
	default:
		return fmt.Sprintf("Ack(%d)", uint32(a))
	}
}

// IsOK reports whether the acknowledgement indicates success.
func (a Ack) IsOK() bool { return a == AckOk }

// ControlCmd is a command the server sends down the control channel.
type ControlCmd uint32

const (
	CreateDataChannel ControlCmd = iota
	HeartBeat
)

func (c ControlCmd) String() string {
	switch c {
	case CreateDataChannel:
		return "CreateDataChannel"
	case HeartBeat:
		return "HeartBeat"
	default:
		return fmt.Sprintf("ControlCmd(%d)", uint32(c))
	}
}

// DataCmd is the command read at the start of a fresh data channel,
// indicating what kind of forwarding the server wants.
type DataCmd uint32

const (
	StartForwardTcp DataCmd = iota
	StartForwardUdp
)

func (d DataCmd) String() string {
	switch d {
	case StartForwardTcp:
		return "StartForwardTcp"
	case StartForwardUdp:
		return "StartForwardUdp"
	default:
		return fmt.Sprintf("DataCmd(%d)", uint32(d))
	}
}
