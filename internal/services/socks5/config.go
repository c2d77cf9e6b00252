package socks5

// Config is the client.services[].socks section (spec.md §6).
type Config struct {
	// RequireAuth, when true, rejects the "no authentication" method and
	// demands RFC1929 username/password negotiation. When false, password
	// auth is still offered as a fallback to a client that skips no-auth,
	// but only once hasCredentials is true (see selectAuthMethod).
	RequireAuth bool
	Username    string
	Password    string
	// AllowUDP gates UDP-ASSOCIATE; when false the command is rejected
	// with command-not-supported.
	AllowUDP bool
	// DNSResolve, when true, resolves domain-name CONNECT targets on the
	// client side before dialing instead of leaving resolution to the
	// dialer.
	DNSResolve bool
	// RequestTimeoutSeconds bounds how long a CONNECT dial may take before
	// it's aborted and reported back as host-unreachable (0 disables the
	// deadline).
	RequestTimeoutSeconds int
	// UDPAssociateTimeoutSeconds bounds how long a single UDP-ASSOCIATE
	// exchange (one datagram round trip) may take before it's torn down.
	UDPAssociateTimeoutSeconds int
}

// hasCredentials reports whether both halves of a username/password pair
// are configured, regardless of RequireAuth.
func (c Config) hasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Validate enforces spec.md §6: auth-required implies both credentials are
// set.
func (c Config) Validate() error {
	if c.RequireAuth && !c.hasCredentials() {
		return errRequireAuthNeedsCredentials
	}
	return nil
}
