package wire

import (
	"bufio"
	"bytes"
	"net"
	"testing"
)

// P1: Hello round-trip for every well-formed variant.
func TestHelloRoundTrip(t *testing.T) {
	cases := []Hello{
		ControlHello("test-socks"),
		DataHello(Sum([]byte("session"))),
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WriteHello(&buf, h); err != nil {
			t.Fatalf("WriteHello: %v", err)
		}
		got, err := ReadHello(&buf)
		if err != nil {
			t.Fatalf("ReadHello: %v", err)
		}
		if got != h {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

// P4: a Hello whose version byte isn't CurrentProtoVersion fails distinctly.
func TestHelloVersionMismatch(t *testing.T) {
	h := ControlHello("svc")
	h.Version = 99
	var buf bytes.Buffer
	if err := WriteHello(&buf, h); err != nil {
		t.Fatalf("WriteHello: %v", err)
	}
	if buf.Len() != lengths().hello {
		t.Fatalf("wrote %d bytes, want %d (fixed length)", buf.Len(), lengths().hello)
	}
	_, err := ReadHello(&buf)
	if err == nil {
		t.Fatal("expected version mismatch error, got nil")
	}
	if !isVersionMismatch(err) {
		t.Errorf("expected version mismatch error, got %v", err)
	}
	// The full message must have been consumed even on failure.
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unconsumed after version mismatch", buf.Len())
	}
}

func isVersionMismatch(err error) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte("protocol version mismatch"))
}

// P2: Ack round-trip for every variant.
func TestAckRoundTrip(t *testing.T) {
	for _, a := range []Ack{AckOk, AckServiceNotExist, AckAuthFailed} {
		var buf bytes.Buffer
		if err := WriteAck(&buf, a); err != nil {
			t.Fatalf("WriteAck(%v): %v", a, err)
		}
		got, err := ReadAck(&buf)
		if err != nil {
			t.Fatalf("ReadAck: %v", err)
		}
		if got != a {
			t.Errorf("got %v, want %v", got, a)
		}
	}
}

func TestControlCmdRoundTrip(t *testing.T) {
	for _, c := range []ControlCmd{CreateDataChannel, HeartBeat} {
		var buf bytes.Buffer
		if err := WriteControlCmd(&buf, c); err != nil {
			t.Fatalf("WriteControlCmd: %v", err)
		}
		got, err := ReadControlCmd(&buf)
		if err != nil {
			t.Fatalf("ReadControlCmd: %v", err)
		}
		if got != c {
			t.Errorf("got %v, want %v", got, c)
		}
	}
}

func TestDataCmdRoundTrip(t *testing.T) {
	for _, d := range []DataCmd{StartForwardTcp, StartForwardUdp} {
		var buf bytes.Buffer
		if err := WriteDataCmd(&buf, d); err != nil {
			t.Fatalf("WriteDataCmd: %v", err)
		}
		got, err := ReadDataCmd(&buf)
		if err != nil {
			t.Fatalf("ReadDataCmd: %v", err)
		}
		if got != d {
			t.Errorf("got %v, want %v", got, d)
		}
	}
}

// P3: session key derivation matches sha256(token || nonce).
func TestSessionKeyDerivation(t *testing.T) {
	nonce := Sum([]byte("nonce-material"))
	got := SessionKey("secret", nonce)
	want := Sum(append([]byte("secret"), nonce[:]...))
	if got != want {
		t.Errorf("SessionKey mismatch: got %x, want %x", got, want)
	}
}

// P15: UDP frame round-trip for payloads up to 65535 bytes.
func TestUdpFrameRoundTrip(t *testing.T) {
	addrs := []*net.UDPAddr{
		{IP: net.ParseIP("127.0.0.1"), Port: 4242},
		{IP: net.ParseIP("::1"), Port: 9},
	}
	sizes := []int{0, 1, 1500, 65535}
	for _, addr := range addrs {
		for _, size := range sizes {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i)
			}
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			if err := WriteUdpFrame(w, addr, payload); err != nil {
				t.Fatalf("WriteUdpFrame(%v, %d bytes): %v", addr, size, err)
			}
			if err := w.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			gotAddr, gotPayload, err := ReadUdpFrame(&buf)
			if err != nil {
				t.Fatalf("ReadUdpFrame: %v", err)
			}
			if gotAddr.Port != addr.Port || !gotAddr.IP.Equal(addr.IP) {
				t.Errorf("addr mismatch: got %v, want %v", gotAddr, addr)
			}
			if !bytes.Equal(gotPayload, payload) {
				t.Errorf("payload mismatch for size %d", size)
			}
		}
	}
}

func TestUdpFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteUdpFrame(&buf, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}, make([]byte, 0x10000))
	if err == nil {
		t.Fatal("expected error for payload exceeding uint16 length field")
	}
}

func TestPacketLengthsArePositiveAndStable(t *testing.T) {
	l1 := lengths()
	l2 := lengths()
	if l1 != l2 {
		t.Fatalf("lengths() not stable across calls: %+v vs %+v", l1, l2)
	}
	if l1.hello <= 0 || l1.auth <= 0 || l1.ack <= 0 || l1.cCmd <= 0 || l1.dCmd <= 0 {
		t.Fatalf("expected all fixed lengths positive, got %+v", l1)
	}
}
