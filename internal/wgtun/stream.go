package wgtun

import (
	"io"
	"net"
	"sync"
)

// streamChanCap is the size of each virtual stream's inbound and outbound
// channel (SPEC_FULL.md §4.4): a stream that isn't being drained can absorb
// this many pending chunks before its pump goroutine blocks, applying
// backpressure to the underlying netstack connection.
const streamChanCap = 256

// Stream is one virtual TCP connection carried over the WireGuard tunnel.
// It's built as a pair of channels pumping to/from a real netstack
// *gonet.TCPConn, the shape the data model names explicitly: the event loop
// never touches the connection directly once a stream is handed out, only
// the two pump goroutines do, which is what keeps "single-owner" true for
// the loop itself while still allowing concurrent stream I/O.
type Stream struct {
	conn net.Conn

	out    chan []byte   // Write() pushes here; the outbound pump drains it into conn
	in     chan []byte   // the inbound pump pushes here; Read() drains it
	closed chan struct{} // closed by Close(); never sent to or closed twice

	closeOnce sync.Once
	closeErr  error
	readBuf   []byte
}

func newStream(conn net.Conn) *Stream {
	s := &Stream{
		conn:   conn,
		out:    make(chan []byte, streamChanCap),
		in:     make(chan []byte, streamChanCap),
		closed: make(chan struct{}),
	}
	go s.pumpOut()
	go s.pumpIn()
	return s
}

func (s *Stream) pumpOut() {
	for {
		select {
		case chunk := <-s.out:
			if _, err := s.conn.Write(chunk); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Stream) pumpIn() {
	defer close(s.in)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.in <- chunk:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Read implements io.Reader over the chunks pushed by pumpIn: it blocks until
// a chunk is available and copies from at most that one chunk, keeping any
// remainder for the next Read. It returns io.EOF once pumpIn has finished.
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.readBuf) == 0 {
		chunk, ok := <-s.in
		if !ok {
			return 0, io.EOF
		}
		s.readBuf = chunk
	}
	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

// Write implements io.Writer by handing p to the outbound pump. The data is
// copied since the caller may reuse p after Write returns.
func (s *Stream) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case s.out <- chunk:
		return len(p), nil
	case <-s.closed:
		return 0, io.ErrClosedPipe
	}
}

// Close is idempotent: closing an already-closed stream returns the first
// close's result instead of panicking on a doubly-closed channel.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
