package ssh

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/rathole-go/client/internal/rerr"
	"github.com/rathole-go/client/internal/transport"
)

// Handler runs an embedded SSH server over each data channel it's given.
type Handler struct {
	cfg      Config
	signer   cryptossh.Signer
	authKeys map[string]bool // marshaled public key -> true
}

// New builds a Handler, loading (or generating) cfg.HostKeyPath's host key.
func New(cfg Config) (*Handler, error) {
	signer, err := loadOrGenerateHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: %w", err)
	}
	h := &Handler{cfg: cfg, signer: signer, authKeys: make(map[string]bool)}
	for _, line := range cfg.AuthorizedKeys {
		pub, _, _, _, err := cryptossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			continue
		}
		h.authKeys[string(pub.Marshal())] = true
	}
	return h, nil
}

func (h *Handler) ServiceType() string { return "ssh" }
func (h *Handler) IsHealthy() bool     { return true }
func (h *Handler) Validate() error     { return h.cfg.Validate() }

// HandleUDPStream: the embedded SSH server only ever runs over a TCP-style
// data channel.
func (h *Handler) HandleUDPStream(ctx context.Context, stream transport.Stream) error {
	return rerr.New(rerr.KindApplication, "ssh", fmt.Errorf("ssh service does not support udp forwarding"))
}

func (h *Handler) serverConfig() *cryptossh.ServerConfig {
	cfg := &cryptossh.ServerConfig{
		ServerVersion: "SSH-2.0-rathole-go",
	}
	if h.cfg.Username != "" && h.cfg.Password != "" {
		cfg.PasswordCallback = func(conn cryptossh.ConnMetadata, password []byte) (*cryptossh.Permissions, error) {
			userOK := subtle.ConstantTimeCompare([]byte(conn.User()), []byte(h.cfg.Username)) == 1
			passOK := subtle.ConstantTimeCompare(password, []byte(h.cfg.Password)) == 1
			if userOK && passOK {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		}
	}
	if len(h.authKeys) > 0 {
		cfg.PublicKeyCallback = func(conn cryptossh.ConnMetadata, key cryptossh.PublicKey) (*cryptossh.Permissions, error) {
			if h.authKeys[string(key.Marshal())] {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", conn.User())
		}
	}
	cfg.AddHostKey(h.signer)
	return cfg
}

// HandleTCPStream runs one embedded SSH server connection over stream until
// the client disconnects.
func (h *Handler) HandleTCPStream(ctx context.Context, stream transport.Stream) error {
	conn := streamConn{stream}
	sshConn, chans, reqs, err := cryptossh.NewServerConn(conn, h.serverConfig())
	if err != nil {
		return rerr.New(rerr.KindApplication, "ssh", fmt.Errorf("handshake: %w", err))
	}
	defer sshConn.Close()
	go cryptossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(cryptossh.UnknownChannelType, errUnsupportedChannelType.Error())
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go h.serveSession(ch, requests)
	}
	return nil
}

// serveSession handles one "session" channel's requests: pty-req sizes the
// terminal, shell/exec starts the process, window-change resizes it live.
func (h *Handler) serveSession(ch cryptossh.Channel, requests <-chan *cryptossh.Request) {
	defer ch.Close()

	var ptmx *os.File
	var cmd *exec.Cmd
	winW, winH := uint32(80), uint32(24)

	for req := range requests {
		switch req.Type {
		case "pty-req":
			cols, rows, ok := parsePtyReq(req.Payload)
			if ok {
				winW, winH = cols, rows
			}
			req.Reply(true, nil)

		case "shell", "exec":
			shell := h.cfg.shellOrDefault()
			var argv []string
			if req.Type == "exec" {
				argv = []string{shell, "-c", parseExecPayload(req.Payload)}
			} else {
				argv = []string{shell}
			}
			c, pt, err := startPTY(argv, winW, winH)
			if err != nil {
				req.Reply(false, nil)
				continue
			}
			cmd, ptmx = c, pt
			req.Reply(true, nil)
			go bridgeSession(ch, ptmx, cmd)

		case "window-change":
			cols, rows, ok := parsePtyReq(req.Payload)
			if ok && ptmx != nil {
				pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
			}

		case "subsystem":
			name := parseExecPayload(req.Payload)
			if name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			serveSFTP(ch)
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// serveSFTP runs an SFTP server subsystem directly over ch until the client
// closes it or a fatal protocol error occurs.
func serveSFTP(ch cryptossh.Channel) {
	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	defer server.Close()
	server.Serve()
}

func startPTY(argv []string, cols, rows uint32) (*exec.Cmd, *os.File, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, err
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	return cmd, ptmx, nil
}

// bridgeSession pumps bytes between the PTY and the SSH channel, closing
// the channel once the process exits (mirrors terminal.LocalSession's
// PTY<->WebSocket bridge, with an SSH channel on the other end instead).
func bridgeSession(ch cryptossh.Channel, ptmx *os.File, cmd *exec.Cmd) {
	done := make(chan struct{})
	go func() {
		io.Copy(ch, ptmx)
		ch.Close()
		close(done)
	}()
	io.Copy(ptmx, ch)

	cmd.Process.Kill()
	cmd.Wait()
	ptmx.Close()
	<-done
	ch.Close()
}

// parsePtyReq decodes the terminal dimensions out of a pty-req/window-change
// payload: string(TERM) uint32(cols) uint32(rows) uint32(width px)
// uint32(height px) string(modes) — only present on pty-req, absent on
// window-change, which starts directly at cols/rows.
func parsePtyReq(payload []byte) (cols, rows uint32, ok bool) {
	// pty-req starts with a length-prefixed TERM string; window-change
	// doesn't. Distinguish by trying to consume a string first only when
	// there's enough payload left afterward for two uint32s plus more.
	if len(payload) >= 4 {
		termLen := binary.BigEndian.Uint32(payload[:4])
		rest := payload[4:]
		if uint64(termLen) <= uint64(len(rest)) && len(rest)-int(termLen) >= 8 {
			rest = rest[termLen:]
			cols = binary.BigEndian.Uint32(rest[0:4])
			rows = binary.BigEndian.Uint32(rest[4:8])
			return cols, rows, true
		}
	}
	if len(payload) >= 8 {
		cols = binary.BigEndian.Uint32(payload[0:4])
		rows = binary.BigEndian.Uint32(payload[4:8])
		return cols, rows, true
	}
	return 0, 0, false
}

// parseExecPayload decodes the length-prefixed command string from an
// "exec" request.
func parseExecPayload(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if uint64(n) > uint64(len(payload)-4) {
		return ""
	}
	return string(payload[4 : 4+n])
}
