// Package ssh is the embedded SSH server exposed over a forwarded data
// channel: the remote peer's ssh client terminates its session here, not
// against some separate local sshd (SPEC_FULL.md §4.11). It borrows
// golang.org/x/crypto/ssh's server side and bridges accepted
// "session" channels to a local PTY-backed shell the way terminal.LocalSession
// bridges a PTY to a WebSocket.
package ssh

// Config is the client.services[].ssh section (spec.md §6).
type Config struct {
	// Username/Password authenticate the embedded server's password auth
	// method. Both must be set for password auth to be offered.
	Username string
	Password string
	// AuthorizedKeys holds one or more "authorized_keys"-format lines; a
	// client presenting a matching public key is accepted without a
	// password. Optional — leave empty to disable public-key auth.
	AuthorizedKeys []string
	// HostKeyPath is where the server's persistent Ed25519 host key is
	// stored (generated on first use, like tunnel.Server's host key).
	HostKeyPath string
	// Shell is the command run for an interactive session (default
	// /bin/sh).
	Shell string
}

func (c Config) shellOrDefault() string {
	if c.Shell == "" {
		return "/bin/sh"
	}
	return c.Shell
}

// Validate enforces that at least one auth method is fully configured.
func (c Config) Validate() error {
	hasPassword := c.Username != "" && c.Password != ""
	hasKeys := len(c.AuthorizedKeys) > 0
	if !hasPassword && !hasKeys {
		return errNoAuthMethodConfigured
	}
	if c.HostKeyPath == "" {
		return errHostKeyPathRequired
	}
	return nil
}
