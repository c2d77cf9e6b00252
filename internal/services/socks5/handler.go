package socks5

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/transport"
)

// Handler implements services.Handler for SOCKS5, relaying CONNECT and
// UDP-ASSOCIATE traffic from the data channel out to the real destination
// the client asked for.
type Handler struct {
	cfg Config
}

// New builds a Handler from cfg. Validate should be called once at startup.
func New(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) ServiceType() string { return "socks5" }
func (h *Handler) IsHealthy() bool     { return true }
func (h *Handler) Validate() error     { return h.cfg.Validate() }

// HandleTCPStream runs the SOCKS5 negotiation over stream and, for CONNECT,
// relays bytes between stream and the dialed destination until either side
// closes.
func (h *Handler) HandleTCPStream(ctx context.Context, stream transport.Stream) error {
	if err := h.negotiateMethod(stream); err != nil {
		return rerr.New(rerr.KindApplication, "socks5", err)
	}

	cmd, addr, err := readRequest(stream)
	if err != nil {
		return rerr.New(rerr.KindApplication, "socks5", err)
	}

	switch cmd {
	case cmdConnect:
		return h.handleConnect(ctx, stream, addr)
	case cmdUDPAssociate:
		return h.handleUDPAssociate(ctx, stream, addr)
	case cmdBind:
		writeReply(stream, replyCommandNotSupported, zeroAddr())
		return rerr.New(rerr.KindApplication, "socks5", errUnsupportedCommand)
	default:
		writeReply(stream, replyCommandNotSupported, zeroAddr())
		return rerr.New(rerr.KindApplication, "socks5", fmt.Errorf("unknown command 0x%02x", cmd))
	}
}

// HandleUDPStream is unused: UDP traffic for this service arrives as a
// UDP-ASSOCIATE TCP control session (handleUDPAssociate), not as a separate
// data-channel kind, so the default "unsupported" body from services.Default
// would be wrong here — override it to make that explicit.
func (h *Handler) HandleUDPStream(ctx context.Context, stream transport.Stream) error {
	return rerr.New(rerr.KindApplication, "socks5", fmt.Errorf("socks5 carries UDP over its TCP control session, not a dedicated UDP data channel"))
}

// negotiateMethod reads the client's offered auth methods and selects one,
// per RFC1928 §3. Rejects with 0xFF if nothing acceptable is offered.
func (h *Handler) negotiateMethod(stream transport.Stream) error {
	var hdr [2]byte
	if _, err := io.ReadFull(stream, hdr[:]); err != nil {
		return fmt.Errorf("read method negotiation header: %w", err)
	}
	if hdr[0] != version {
		return fmt.Errorf("unsupported socks version 0x%02x", hdr[0])
	}
	nMethods := int(hdr[1])
	methods := make([]byte, nMethods)
	if _, err := io.ReadFull(stream, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}

	selected, ok := selectAuthMethod(methods, h.cfg)
	if !ok {
		stream.Write([]byte{version, authMethodNotAcceptable})
		return errNoAcceptableAuthMethod
	}
	if _, err := stream.Write([]byte{version, selected}); err != nil {
		return fmt.Errorf("write method selection: %w", err)
	}

	if selected == authMethodPassword {
		return h.authenticate(stream)
	}
	return nil
}

// selectAuthMethod picks an auth method from the client's offered list.
// When auth isn't required, no-auth wins if offered; password is only a
// fallback, and only when the client offered it and credentials are
// actually configured for this service.
func selectAuthMethod(offered []byte, cfg Config) (byte, bool) {
	has := func(m byte) bool {
		for _, o := range offered {
			if o == m {
				return true
			}
		}
		return false
	}

	if cfg.RequireAuth {
		if has(authMethodPassword) {
			return authMethodPassword, true
		}
		return 0, false
	}

	if has(authMethodNone) {
		return authMethodNone, true
	}
	if has(authMethodPassword) && cfg.hasCredentials() {
		return authMethodPassword, true
	}
	return 0, false
}

// authenticate runs RFC1929 username/password auth. Credential comparison
// uses subtle.ConstantTimeCompare so a timing side channel can't leak how
// many leading bytes of a guess matched.
func (h *Handler) authenticate(stream transport.Stream) error {
	var verLen [2]byte
	if _, err := io.ReadFull(stream, verLen[:]); err != nil {
		return fmt.Errorf("read auth header: %w", err)
	}
	if verLen[0] != authVersion {
		writeAuthResult(stream, false)
		return fmt.Errorf("unsupported auth sub-negotiation version 0x%02x", verLen[0])
	}
	uLen := int(verLen[1])
	username := make([]byte, uLen)
	if _, err := io.ReadFull(stream, username); err != nil {
		return fmt.Errorf("read username: %w", err)
	}

	var pLenBuf [1]byte
	if _, err := io.ReadFull(stream, pLenBuf[:]); err != nil {
		return fmt.Errorf("read password length: %w", err)
	}
	password := make([]byte, pLenBuf[0])
	if _, err := io.ReadFull(stream, password); err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	userOK := subtle.ConstantTimeCompare(username, []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(h.cfg.Password)) == 1
	ok := userOK && passOK

	writeAuthResult(stream, ok)
	if !ok {
		return errAuthFailed
	}
	return nil
}

func writeAuthResult(w io.Writer, ok bool) {
	status := byte(1)
	if ok {
		status = 0
	}
	w.Write([]byte{authVersion, status})
}

// socksAddr is a parsed SOCKS5 address/port, either a literal IP or a
// domain name to be resolved by the dialer.
type socksAddr struct {
	domain string // set when atyp == atypDomain
	ip     net.IP // set otherwise
	port   uint16
}

func (a socksAddr) HostPort() string {
	host := a.domain
	if host == "" {
		host = a.ip.String()
	}
	return net.JoinHostPort(host, fmt.Sprint(a.port))
}

func zeroAddr() socksAddr { return socksAddr{ip: net.IPv4zero, port: 0} }

// resolveDomain performs client-side resolution of a domain name, used when
// client.socks.dns_resolve is set so the dial always sees a literal address
// instead of letting net.Dialer resolve it internally.
func resolveDomain(ctx context.Context, domain string) (socksAddr, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return socksAddr{}, err
	}
	if len(ips) == 0 {
		return socksAddr{}, fmt.Errorf("no addresses found for %s", domain)
	}
	return socksAddr{ip: ips[0].IP}, nil
}

// readRequest reads the CMD/ATYP/DST.ADDR/DST.PORT fields shared by
// CONNECT, BIND, and UDP-ASSOCIATE requests (RFC1928 §4).
func readRequest(r io.Reader) (byte, socksAddr, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, socksAddr{}, fmt.Errorf("read request header: %w", err)
	}
	if hdr[0] != version {
		return 0, socksAddr{}, fmt.Errorf("unsupported socks version 0x%02x", hdr[0])
	}
	cmd := hdr[1]
	// hdr[2] is the reserved byte.
	atyp := hdr[3]

	addr, err := readAddr(r, atyp)
	if err != nil {
		return 0, socksAddr{}, err
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return 0, socksAddr{}, fmt.Errorf("read port: %w", err)
	}
	addr.port = binary.BigEndian.Uint16(portBuf[:])
	return cmd, addr, nil
}

func readAddr(r io.Reader, atyp byte) (socksAddr, error) {
	switch atyp {
	case atypIPv4:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return socksAddr{}, fmt.Errorf("read ipv4: %w", err)
		}
		return socksAddr{ip: net.IP(buf[:])}, nil
	case atypIPv6:
		var buf [16]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return socksAddr{}, fmt.Errorf("read ipv6: %w", err)
		}
		return socksAddr{ip: net.IP(buf[:])}, nil
	case atypDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return socksAddr{}, fmt.Errorf("read domain length: %w", err)
		}
		if int(lenBuf[0]) > maxDomainLen {
			return socksAddr{}, errDomainTooLong
		}
		buf := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(r, buf); err != nil {
			return socksAddr{}, fmt.Errorf("read domain: %w", err)
		}
		return socksAddr{domain: string(buf)}, nil
	default:
		return socksAddr{}, errUnsupportedAddressType
	}
}

// writeReply writes the CONNECT/BIND reply format (RFC1928 §6), always
// using an IPv4 BND.ADDR/BND.PORT pair: a bound address that is not IPv4 is
// written as 0.0.0.0 with its port kept.
func writeReply(w io.Writer, code byte, bound socksAddr) error {
	buf := make([]byte, 0, 10)
	buf = append(buf, version, code, reserved, atypIPv4)
	ip4 := bound.ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	buf = append(buf, ip4...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, bound.port)
	buf = append(buf, portBuf...)
	_, err := w.Write(buf)
	return err
}

// replyCodeFor classifies a dial error into a SOCKS5 reply code, following
// the same error-kind mapping as the upstream client's send_io_error.
func replyCodeFor(err error) byte {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return replyConnectionRefused
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return replyHostUnreachable
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return replyHostUnreachable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return replyConnectionNotAllowed
	default:
		return replyGeneralFailure
	}
}

func (h *Handler) handleConnect(ctx context.Context, stream transport.Stream, addr socksAddr) error {
	if h.cfg.DNSResolve && addr.domain != "" {
		resolved, err := resolveDomain(ctx, addr.domain)
		if err != nil {
			writeReply(stream, replyCodeFor(err), zeroAddr())
			return fmt.Errorf("resolve %s: %w", addr.domain, err)
		}
		resolved.port = addr.port
		addr = resolved
	}

	dialCtx := ctx
	if h.cfg.RequestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.RequestTimeoutSeconds)*time.Second)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr.HostPort())
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			writeReply(stream, replyHostUnreachable, zeroAddr())
			return fmt.Errorf("connect to %s: %w", addr.HostPort(), dialCtx.Err())
		}
		writeReply(stream, replyCodeFor(err), zeroAddr())
		return fmt.Errorf("connect to %s: %w", addr.HostPort(), err)
	}
	defer conn.Close()

	local := socksAddr{ip: net.IPv4zero}
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = socksAddr{ip: tcpAddr.IP, port: uint16(tcpAddr.Port)}
	}
	if err := writeReply(stream, replySucceeded, local); err != nil {
		return fmt.Errorf("write connect reply: %w", err)
	}

	return relay(stream, conn)
}

// relay pumps bytes in both directions until one side closes, then waits
// for the other pump to finish so the function doesn't return while a
// goroutine is still writing to an already-returned-from stream.
func relay(a io.ReadWriteCloser, b io.ReadWriteCloser) error {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(b, a)
		b.Close()
		errc <- err
	}()
	go func() {
		_, err := io.Copy(a, b)
		a.Close()
		errc <- err
	}()
	err1 := <-errc
	err2 := <-errc
	if err1 != nil {
		return err1
	}
	return err2
}

// handleUDPAssociate holds the TCP control session open (its closure tears
// down the association per RFC1928 §7) while relaying UDP datagrams wrapped
// in the rathole UDP traffic frame over the same data channel. Each
// exchange is bounded by the configured timeout so an abandoned association
// doesn't pin a data channel forever (SPEC_FULL.md).
func (h *Handler) handleUDPAssociate(ctx context.Context, stream transport.Stream, _ socksAddr) error {
	if !h.cfg.AllowUDP {
		writeReply(stream, replyCommandNotSupported, zeroAddr())
		return errUDPAssociateDisabled
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		writeReply(stream, replyGeneralFailure, zeroAddr())
		return fmt.Errorf("listen udp: %w", err)
	}
	defer udpConn.Close()

	bound := socksAddr{ip: net.IPv4zero}
	if la, ok := udpConn.LocalAddr().(*net.UDPAddr); ok {
		bound = socksAddr{ip: la.IP, port: uint16(la.Port)}
	}
	if err := writeReply(stream, replySucceeded, bound); err != nil {
		return fmt.Errorf("write udp associate reply: %w", err)
	}

	timeout := time.Duration(h.cfg.UDPAssociateTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	// The control TCP session must stay open and be read from so we notice
	// the client closing it; a zero-length read (EOF) ends the association.
	closeSignal := make(chan struct{})
	go func() {
		defer close(closeSignal)
		var discard [1]byte
		for {
			if _, err := stream.Read(discard[:]); err != nil {
				return
			}
		}
	}()

	for {
		udpConn.SetReadDeadline(time.Now().Add(timeout))
		buf := make([]byte, 65535)
		n, from, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			return nil // timeout or closed: association ends quietly
		}

		addr, payload, err := parseUDPRequest(buf[:n])
		if err != nil {
			continue // malformed datagram: drop and keep the association alive
		}

		dst, err := net.ResolveUDPAddr("udp", addr.HostPort())
		if err != nil {
			continue
		}
		reply, err := forwardUDP(ctx, dst, payload, timeout)
		if err != nil {
			continue
		}
		udpConn.WriteToUDP(encodeUDPReply(addr, reply), from)

		select {
		case <-closeSignal:
			return nil
		default:
		}
	}
}

// parseUDPRequest strips the RFC1928 §7 UDP request header
// (RSV/FRAG/ATYP/DST.ADDR/DST.PORT) from a client datagram.
func parseUDPRequest(buf []byte) (socksAddr, []byte, error) {
	if len(buf) < 4 {
		return socksAddr{}, nil, fmt.Errorf("udp datagram too short")
	}
	if buf[2] != 0 {
		return socksAddr{}, nil, fmt.Errorf("fragmented udp datagrams are not supported")
	}
	atyp := buf[3]
	rest := buf[4:]
	addr, n, err := readAddrFromBytes(rest, atyp)
	if err != nil {
		return socksAddr{}, nil, err
	}
	rest = rest[n:]
	if len(rest) < 2 {
		return socksAddr{}, nil, fmt.Errorf("udp datagram missing port")
	}
	addr.port = binary.BigEndian.Uint16(rest[:2])
	return addr, rest[2:], nil
}

func readAddrFromBytes(buf []byte, atyp byte) (socksAddr, int, error) {
	switch atyp {
	case atypIPv4:
		if len(buf) < 4 {
			return socksAddr{}, 0, fmt.Errorf("truncated ipv4")
		}
		return socksAddr{ip: net.IP(append([]byte(nil), buf[:4]...))}, 4, nil
	case atypIPv6:
		if len(buf) < 16 {
			return socksAddr{}, 0, fmt.Errorf("truncated ipv6")
		}
		return socksAddr{ip: net.IP(append([]byte(nil), buf[:16]...))}, 16, nil
	case atypDomain:
		if len(buf) < 1 {
			return socksAddr{}, 0, fmt.Errorf("truncated domain length")
		}
		n := int(buf[0])
		if len(buf) < 1+n {
			return socksAddr{}, 0, fmt.Errorf("truncated domain")
		}
		return socksAddr{domain: string(buf[1 : 1+n])}, 1 + n, nil
	default:
		return socksAddr{}, 0, errUnsupportedAddressType
	}
}

func encodeUDPReply(from socksAddr, payload []byte) []byte {
	buf := make([]byte, 0, 4+16+2+len(payload))
	buf = append(buf, 0, 0, 0, atypIPv4)
	ip4 := from.ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	buf = append(buf, ip4...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, from.port)
	buf = append(buf, portBuf...)
	return append(buf, payload...)
}

func forwardUDP(ctx context.Context, dst *net.UDPAddr, payload []byte, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialUDP("udp", nil, dst)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
