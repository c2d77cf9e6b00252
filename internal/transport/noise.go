package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/flynn/noise"
	"github.com/rathole-go/client/internal/rerr"
	"golang.org/x/crypto/curve25519"
)

// NoiseTransport layers a Noise Protocol Framework handshake on top of a
// plain TCP dial, the same way the upstream client's snowstorm-based variant
// does (§4.3): dial TCP, apply socket options, then run the handshake as the
// NK initiator (the client already knows the server's static public key; the
// server never learns the client's).
type NoiseTransport struct {
	pattern        noise.HandshakePattern
	localStatic    noise.DHKey
	remoteStatic   []byte
	opts           SocketOpts
	connectTimeout time.Duration
}

// NewNoiseTransport builds a NoiseTransport from config.Noise. Only the
// NK_25519_ChaChaPoly_BLAKE2s pattern is supported; it's the only one the
// wire format's remote-static-required, local-static-optional key shape
// assumes.
func NewNoiseTransport(cfg Config) (*NoiseTransport, error) {
	if len(cfg.Noise.RemotePublicKey) != 32 {
		return nil, fmt.Errorf("noise: remote public key must be 32 bytes, got %d", len(cfg.Noise.RemotePublicKey))
	}
	var local noise.DHKey
	if len(cfg.Noise.LocalPrivateKey) == 32 {
		priv := append([]byte(nil), cfg.Noise.LocalPrivateKey...)
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("noise: derive public key from local private key: %w", err)
		}
		local = noise.DHKey{Private: priv, Public: pub}
	}
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &NoiseTransport{
		pattern:        noise.HandshakeNK,
		localStatic:    local,
		remoteStatic:   cfg.Noise.RemotePublicKey,
		opts:           SocketOpts{NoDelay: cfg.TCP.NoDelay, KeepAliveIdle: 20 * time.Second, KeepAliveInterval: 8 * time.Second},
		connectTimeout: timeout,
	}, nil
}

func (t *NoiseTransport) Connect(ctx context.Context, addr *CachedAddr) (Stream, error) {
	resolved, err := addr.Resolve(ctx)
	if err != nil {
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("resolve: %w", err))
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()
	var d net.Dialer
	tcpConn, err := d.DialContext(dialCtx, "tcp", resolved.String())
	if err != nil {
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("dial: %w", err))
	}
	if err := t.opts.Apply(tcpConn); err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("apply socket opts: %w", err))
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       t.pattern,
		Initiator:     true,
		StaticKeypair: t.localStatic,
		PeerStatic:    t.remoteStatic,
	})
	if err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("init noise handshake: %w", err))
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("noise handshake: %w", err))
	}
	if err := writeFramed(tcpConn, msg); err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("noise handshake: %w", err))
	}
	reply, err := readFramed(tcpConn)
	if err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("noise handshake: %w", err))
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, reply)
	if err != nil {
		tcpConn.Close()
		return nil, rerr.New(rerr.KindTransport, addr.String(), fmt.Errorf("noise handshake: %w", err))
	}

	return &noiseStream{conn: tcpConn, send: cs1, recv: cs2}, nil
}

func (t *NoiseTransport) Hint(conn Stream, opts SocketOpts) {
	// Socket options are applied before the handshake begins; nothing to
	// hint once the stream is an encrypted Noise session.
}

// noiseStream frames each plaintext write as one Noise transport message and
// buffers partial reads, since the underlying cipher operates on whole
// messages, not arbitrary byte counts.
type noiseStream struct {
	conn net.Conn
	send *noise.CipherState
	recv *noise.CipherState

	readBuf []byte
}

const noiseMaxMessage = 65519 // leaves room for the 16-byte Poly1305 tag under the uint16 frame length

func (s *noiseStream) Read(p []byte) (int, error) {
	for len(s.readBuf) == 0 {
		ciphertext, err := readFramed(s.conn)
		if err != nil {
			return 0, err
		}
		plain, err := s.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			return 0, fmt.Errorf("noise: decrypt: %w", err)
		}
		s.readBuf = plain
	}
	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *noiseStream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > noiseMaxMessage {
			chunk = chunk[:noiseMaxMessage]
		}
		ciphertext, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return total, fmt.Errorf("noise: encrypt: %w", err)
		}
		if err := writeFramed(s.conn, ciphertext); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (s *noiseStream) Close() error { return s.conn.Close() }

func writeFramed(w io.Writer, msg []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
