package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rathole-go/client/internal/rerr"
)

// packetLen holds the fixed on-wire length of every control-plane message,
// measured once from a canonical instance the way the upstream protocol's
// own codec does it (§4.1): rather than hand-compute offsets, serialize a
// representative value and take len(buf). Readers then pre-size exactly
// that many bytes and read-exact.
type packetLen struct {
	hello int
	auth  int
	ack   int
	cCmd  int
	dCmd  int
}

var (
	lenOnce sync.Once
	plen    packetLen
)

func lengths() packetLen {
	lenOnce.Do(func() {
		plen = packetLen{
			hello: len(encodeHello(ControlHello("default"))),
			auth:  len(encodeAuth(Auth{})),
			ack:   len(encodeAck(AckOk)),
			cCmd:  len(encodeControlCmd(HeartBeat)),
			dCmd:  len(encodeDataCmd(StartForwardTcp)),
		}
	})
	return plen
}

// --- Hello -----------------------------------------------------------------

func encodeHello(h Hello) []byte {
	buf := make([]byte, 4+1+DigestSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Kind))
	buf[4] = h.Version
	copy(buf[5:], h.Digest[:])
	return buf
}

// ReadHello reads a Hello off r and verifies its protocol version.
// A version mismatch is returned as rerr.ErrVersionMismatch wrapped with
// KindWire (P4); the full fixed-size message is consumed before the
// failure surfaces, matching "other bytes read are consumed before the
// failure surface."
func ReadHello(r io.Reader) (Hello, error) {
	buf := make([]byte, lengths().hello)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Hello{}, rerr.New(rerr.KindWire, "hello", fmt.Errorf("read hello: %w", err))
	}
	h := Hello{
		Kind:    HelloKind(binary.LittleEndian.Uint32(buf[0:4])),
		Version: buf[4],
	}
	copy(h.Digest[:], buf[5:])
	if h.Kind != HelloControl && h.Kind != HelloData {
		return h, rerr.New(rerr.KindWire, "hello", fmt.Errorf("unknown hello variant %d", h.Kind))
	}
	if h.Version != CurrentProtoVersion {
		return h, rerr.New(rerr.KindWire, "hello", rerr.ErrVersionMismatch)
	}
	return h, nil
}

// WriteHello serializes and flushes h to w. Writers must flush after every
// message — these are tiny messages, and a delayed flush can deadlock a
// peer that is waiting for this message before it sends its own next one.
func WriteHello(w io.Writer, h Hello) error {
	return flushWrite(w, encodeHello(h), "hello")
}

// --- Auth --------------------------------------------------------------

func encodeAuth(a Auth) []byte {
	buf := make([]byte, DigestSize)
	copy(buf, a.SessionKey[:])
	return buf
}

func ReadAuth(r io.Reader) (Auth, error) {
	buf := make([]byte, lengths().auth)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Auth{}, rerr.New(rerr.KindWire, "auth", fmt.Errorf("read auth: %w", err))
	}
	var a Auth
	copy(a.SessionKey[:], buf)
	return a, nil
}

func WriteAuth(w io.Writer, a Auth) error {
	return flushWrite(w, encodeAuth(a), "auth")
}

// --- Ack -----------------------------------------------------------------

func encodeAck(a Ack) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(a))
	return buf
}

func ReadAck(r io.Reader) (Ack, error) {
	buf := make([]byte, lengths().ack)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, rerr.New(rerr.KindWire, "ack", fmt.Errorf("read ack: %w", err))
	}
	a := Ack(binary.LittleEndian.Uint32(buf))
	if a != AckOk && a != AckServiceNotExist && a != AckAuthFailed {
		return a, rerr.New(rerr.KindWire, "ack", fmt.Errorf("unknown ack variant %d", a))
	}
	return a, nil
}

func WriteAck(w io.Writer, a Ack) error {
	return flushWrite(w, encodeAck(a), "ack")
}

// --- ControlCmd ------------------------------------------------------------

func encodeControlCmd(c ControlCmd) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(c))
	return buf
}

func ReadControlCmd(r io.Reader) (ControlCmd, error) {
	buf := make([]byte, lengths().cCmd)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, rerr.New(rerr.KindWire, "control_cmd", fmt.Errorf("read control cmd: %w", err))
	}
	c := ControlCmd(binary.LittleEndian.Uint32(buf))
	if c != CreateDataChannel && c != HeartBeat {
		return c, rerr.New(rerr.KindWire, "control_cmd", fmt.Errorf("unknown control cmd %d", c))
	}
	return c, nil
}

func WriteControlCmd(w io.Writer, c ControlCmd) error {
	return flushWrite(w, encodeControlCmd(c), "control_cmd")
}

// --- DataCmd -----------------------------------------------------------

func encodeDataCmd(d DataCmd) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(d))
	return buf
}

func ReadDataCmd(r io.Reader) (DataCmd, error) {
	buf := make([]byte, lengths().dCmd)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, rerr.New(rerr.KindWire, "data_cmd", fmt.Errorf("read data cmd: %w", err))
	}
	d := DataCmd(binary.LittleEndian.Uint32(buf))
	if d != StartForwardTcp && d != StartForwardUdp {
		return d, rerr.New(rerr.KindWire, "data_cmd", fmt.Errorf("unknown data cmd %d", d))
	}
	return d, nil
}

func WriteDataCmd(w io.Writer, d DataCmd) error {
	return flushWrite(w, encodeDataCmd(d), "data_cmd")
}

// --- UDP traffic frame (the only variable-length message) -------------

// UdpHeader labels one encapsulated UDP datagram with its source address
// and payload length.
type UdpHeader struct {
	From net.Addr
	Len  uint16
}

const (
	atypV4 = 4
	atypV6 = 6
)

func encodeUdpHeader(from *net.UDPAddr, payloadLen int) []byte {
	ip4 := from.IP.To4()
	var buf []byte
	if ip4 != nil {
		buf = make([]byte, 1+4+2+2)
		buf[0] = atypV4
		copy(buf[1:5], ip4)
		binary.LittleEndian.PutUint16(buf[5:7], uint16(from.Port))
		binary.LittleEndian.PutUint16(buf[7:9], uint16(payloadLen))
	} else {
		ip16 := from.IP.To16()
		buf = make([]byte, 1+16+2+2)
		buf[0] = atypV6
		copy(buf[1:17], ip16)
		binary.LittleEndian.PutUint16(buf[17:19], uint16(from.Port))
		binary.LittleEndian.PutUint16(buf[19:21], uint16(payloadLen))
	}
	return buf
}

// WriteUdpFrame writes one variable-length frame:
// [hdr_len:u8][header][payload]. len(payload) must fit in a uint16 (the
// protocol's UDP packet length field).
func WriteUdpFrame(w io.Writer, from *net.UDPAddr, payload []byte) error {
	if len(payload) > 0xFFFF {
		return rerr.New(rerr.KindWire, "udp_frame", fmt.Errorf("payload %d bytes exceeds uint16 length field", len(payload)))
	}
	hdr := encodeUdpHeader(from, len(payload))
	if len(hdr) > 0xFF {
		return rerr.New(rerr.KindWire, "udp_frame", fmt.Errorf("header %d bytes exceeds uint8 length prefix", len(hdr)))
	}
	frame := make([]byte, 0, 1+len(hdr)+len(payload))
	frame = append(frame, byte(len(hdr)))
	frame = append(frame, hdr...)
	frame = append(frame, payload...)
	return flushWrite(w, frame, "udp_frame")
}

// ReadUdpFrame reads one [hdr_len][header][payload] frame, including the
// leading hdr_len byte. Returns the source address and payload.
func ReadUdpFrame(r io.Reader) (*net.UDPAddr, []byte, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, rerr.New(rerr.KindWire, "udp_frame", fmt.Errorf("read hdr_len: %w", err))
	}
	hdrBuf := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return nil, nil, rerr.New(rerr.KindWire, "udp_frame", fmt.Errorf("read header: %w", err))
	}
	addr, payloadLen, err := decodeUdpHeader(hdrBuf)
	if err != nil {
		return nil, nil, rerr.New(rerr.KindWire, "udp_frame", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, rerr.New(rerr.KindWire, "udp_frame", fmt.Errorf("read payload: %w", err))
	}
	return addr, payload, nil
}

func decodeUdpHeader(buf []byte) (*net.UDPAddr, uint16, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("udp header too short")
	}
	switch buf[0] {
	case atypV4:
		if len(buf) != 1+4+2+2 {
			return nil, 0, fmt.Errorf("malformed ipv4 udp header")
		}
		ip := net.IP(append([]byte(nil), buf[1:5]...))
		port := binary.LittleEndian.Uint16(buf[5:7])
		plen := binary.LittleEndian.Uint16(buf[7:9])
		return &net.UDPAddr{IP: ip, Port: int(port)}, plen, nil
	case atypV6:
		if len(buf) != 1+16+2+2 {
			return nil, 0, fmt.Errorf("malformed ipv6 udp header")
		}
		ip := net.IP(append([]byte(nil), buf[1:17]...))
		port := binary.LittleEndian.Uint16(buf[17:19])
		plen := binary.LittleEndian.Uint16(buf[19:21])
		return &net.UDPAddr{IP: ip, Port: int(port)}, plen, nil
	default:
		return nil, 0, fmt.Errorf("unknown udp header atyp %d", buf[0])
	}
}

// flushWrite writes buf in one call and, when w also implements Flush()
// error (as a bufio.Writer does), flushes immediately afterward.
func flushWrite(w io.Writer, buf []byte, op string) error {
	if _, err := w.Write(buf); err != nil {
		return rerr.New(rerr.KindWire, op, fmt.Errorf("write %s: %w", op, err))
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return rerr.New(rerr.KindWire, op, fmt.Errorf("flush %s: %w", op, err))
		}
	}
	return nil
}
