package socks5

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"syscall"
	"testing"
)

// pipeStream adapts a bytes-backed pipe into something HandleTCPStream's
// read/write calls can exercise without a real socket.
type pipeStream struct {
	io.Reader
	io.Writer
}

func (pipeStream) Close() error { return nil }

func newLoopback(client []byte) (*pipeStream, *bytes.Buffer) {
	var out bytes.Buffer
	return &pipeStream{Reader: bytes.NewReader(client), Writer: &out}, &out
}

// ---- method negotiation ---------------------------------------------------

func TestNegotiateMethod_NoAuthSelected(t *testing.T) {
	h := New(Config{RequireAuth: false})
	client, out := newLoopback([]byte{version, 1, authMethodNone})

	if err := h.negotiateMethod(client); err != nil {
		t.Fatalf("negotiateMethod: %v", err)
	}
	got := out.Bytes()
	want := []byte{version, authMethodNone}
	if !bytes.Equal(got, want) {
		t.Errorf("reply = % x, want % x", got, want)
	}
}

func TestNegotiateMethod_RejectsWhenAuthRequiredButNotOffered(t *testing.T) {
	h := New(Config{RequireAuth: true, Username: "u", Password: "p"})
	client, out := newLoopback([]byte{version, 1, authMethodNone})

	err := h.negotiateMethod(client)
	if err != errNoAcceptableAuthMethod {
		t.Fatalf("err = %v, want errNoAcceptableAuthMethod", err)
	}
	want := []byte{version, authMethodNotAcceptable}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

func TestNegotiateMethod_PasswordAuthSuccess(t *testing.T) {
	h := New(Config{RequireAuth: true, Username: "alice", Password: "hunter2"})
	body := []byte{version, 1, authMethodPassword}
	body = append(body, authVersion, byte(len("alice")))
	body = append(body, []byte("alice")...)
	body = append(body, byte(len("hunter2")))
	body = append(body, []byte("hunter2")...)
	client, out := newLoopback(body)

	if err := h.negotiateMethod(client); err != nil {
		t.Fatalf("negotiateMethod: %v", err)
	}
	want := []byte{version, authMethodPassword, authVersion, 0x00}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

func TestNegotiateMethod_PasswordAuthFailure(t *testing.T) {
	h := New(Config{RequireAuth: true, Username: "alice", Password: "hunter2"})
	body := []byte{version, 1, authMethodPassword}
	body = append(body, authVersion, byte(len("alice")))
	body = append(body, []byte("alice")...)
	body = append(body, byte(len("wrong")))
	body = append(body, []byte("wrong")...)
	client, out := newLoopback(body)

	err := h.negotiateMethod(client)
	if err != errAuthFailed {
		t.Fatalf("err = %v, want errAuthFailed", err)
	}
	want := []byte{version, authMethodPassword, authVersion, 0x01}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

func TestNegotiateMethod_PasswordFallbackWithoutRequireAuth(t *testing.T) {
	// RequireAuth=false but credentials are configured, and the client only
	// offers password: the no-auth branch has nothing to select, so the
	// fallback must pick password rather than rejecting with 0xFF.
	h := New(Config{RequireAuth: false, Username: "alice", Password: "hunter2"})
	body := []byte{version, 1, authMethodPassword}
	body = append(body, authVersion, byte(len("alice")))
	body = append(body, []byte("alice")...)
	body = append(body, byte(len("hunter2")))
	body = append(body, []byte("hunter2")...)
	client, out := newLoopback(body)

	if err := h.negotiateMethod(client); err != nil {
		t.Fatalf("negotiateMethod: %v", err)
	}
	want := []byte{version, authMethodPassword, authVersion, 0x00}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

func TestNegotiateMethod_NoFallbackWithoutCredentials(t *testing.T) {
	// Same as above but no credentials configured: password can't be
	// offered as a fallback, so negotiation must reject.
	h := New(Config{RequireAuth: false})
	client, out := newLoopback([]byte{version, 1, authMethodPassword})

	err := h.negotiateMethod(client)
	if err != errNoAcceptableAuthMethod {
		t.Fatalf("err = %v, want errNoAcceptableAuthMethod", err)
	}
	want := []byte{version, authMethodNotAcceptable}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

func TestSelectAuthMethod_PrefersNoAuthWhenOffered(t *testing.T) {
	cfg := Config{RequireAuth: false, Username: "alice", Password: "hunter2"}
	got, ok := selectAuthMethod([]byte{authMethodNone, authMethodPassword}, cfg)
	if !ok || got != authMethodNone {
		t.Errorf("selectAuthMethod = (0x%02x, %v), want (authMethodNone, true)", got, ok)
	}
}

// ---- reply code classification ---------------------------------------------

func TestReplyCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want byte
	}{
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, replyConnectionRefused},
		{"timed out", &net.OpError{Op: "dial", Err: syscall.ETIMEDOUT}, replyHostUnreachable},
		{"addr not available", &net.OpError{Op: "dial", Err: syscall.EADDRNOTAVAIL}, replyHostUnreachable},
		{"permission denied", &net.OpError{Op: "dial", Err: syscall.EACCES}, replyConnectionNotAllowed},
		{"unclassified", io.ErrUnexpectedEOF, replyGeneralFailure},
	}
	for _, tc := range cases {
		if got := replyCodeFor(tc.err); got != tc.want {
			t.Errorf("%s: replyCodeFor = 0x%02x, want 0x%02x", tc.name, got, tc.want)
		}
	}
}

// ---- UDP associate gating ---------------------------------------------------

func TestHandleUDPAssociate_DisabledByConfig(t *testing.T) {
	h := New(Config{AllowUDP: false})
	client, out := newLoopback(nil)

	err := h.handleUDPAssociate(context.Background(), client, socksAddr{})
	if err != errUDPAssociateDisabled {
		t.Fatalf("err = %v, want errUDPAssociateDisabled", err)
	}
	want := []byte{version, replyCommandNotSupported, reserved, atypIPv4, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

// ---- request / address parsing -------------------------------------------

func TestReadRequest_IPv4Connect(t *testing.T) {
	buf := []byte{version, cmdConnect, reserved, atypIPv4, 93, 184, 216, 34}
	buf = binary.BigEndian.AppendUint16(buf, 443)

	cmd, addr, err := readRequest(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if cmd != cmdConnect {
		t.Errorf("cmd = 0x%02x, want cmdConnect", cmd)
	}
	if addr.HostPort() != "93.184.216.34:443" {
		t.Errorf("addr = %s, want 93.184.216.34:443", addr.HostPort())
	}
}

func TestReadRequest_Domain(t *testing.T) {
	domain := "example.com"
	buf := []byte{version, cmdConnect, reserved, atypDomain, byte(len(domain))}
	buf = append(buf, []byte(domain)...)
	buf = binary.BigEndian.AppendUint16(buf, 80)

	_, addr, err := readRequest(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if addr.HostPort() != "example.com:80" {
		t.Errorf("addr = %s, want example.com:80", addr.HostPort())
	}
}

func TestReadRequest_MaxLengthDomainAccepted(t *testing.T) {
	buf := []byte{version, cmdConnect, reserved, atypDomain, 0xFF}
	buf = append(buf, bytes.Repeat([]byte("a"), 255)...)
	buf = binary.BigEndian.AppendUint16(buf, 80)

	_, _, err := readRequest(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("255-byte domain should be accepted: %v", err)
	}
}

func TestReadRequest_IPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	buf := []byte{version, cmdConnect, reserved, atypIPv6}
	buf = append(buf, ip.To16()...)
	buf = binary.BigEndian.AppendUint16(buf, 22)

	_, addr, err := readRequest(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if !addr.ip.Equal(ip) {
		t.Errorf("ip = %s, want %s", addr.ip, ip)
	}
	if addr.port != 22 {
		t.Errorf("port = %d, want 22", addr.port)
	}
}

func TestReadRequest_UnsupportedAddressType(t *testing.T) {
	buf := []byte{version, cmdConnect, reserved, 0x7F, 0, 0}
	_, _, err := readRequest(bytes.NewReader(buf))
	if err != errUnsupportedAddressType {
		t.Fatalf("err = %v, want errUnsupportedAddressType", err)
	}
}

// ---- reply encoding --------------------------------------------------------

func TestWriteReply_EncodesIPv4BoundAddress(t *testing.T) {
	var out bytes.Buffer
	bound := socksAddr{ip: net.ParseIP("127.0.0.1"), port: 9050}
	if err := writeReply(&out, replySucceeded, bound); err != nil {
		t.Fatalf("writeReply: %v", err)
	}
	want := []byte{version, replySucceeded, reserved, atypIPv4, 127, 0, 0, 1, 0x23, 0x5a}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("reply = % x, want % x", out.Bytes(), want)
	}
}

// ---- UDP datagram framing --------------------------------------------------

func TestParseUDPRequest_RoundTrip(t *testing.T) {
	payload := []byte("hello")
	buf := []byte{0, 0, 0, atypIPv4, 10, 0, 0, 1}
	buf = binary.BigEndian.AppendUint16(buf, 5353)
	buf = append(buf, payload...)

	addr, got, err := parseUDPRequest(buf)
	if err != nil {
		t.Fatalf("parseUDPRequest: %v", err)
	}
	if addr.HostPort() != "10.0.0.1:5353" {
		t.Errorf("addr = %s, want 10.0.0.1:5353", addr.HostPort())
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestParseUDPRequest_RejectsFragments(t *testing.T) {
	buf := []byte{0, 0, 1, atypIPv4, 10, 0, 0, 1, 0, 0}
	_, _, err := parseUDPRequest(buf)
	if err == nil {
		t.Fatal("expected an error for a fragmented datagram")
	}
}

// ---- config validation ------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"no auth required", Config{RequireAuth: false}, true},
		{"auth with both credentials", Config{RequireAuth: true, Username: "u", Password: "p"}, true},
		{"auth missing password", Config{RequireAuth: true, Username: "u"}, false},
		{"auth missing both", Config{RequireAuth: true}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("%s: Validate() err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
