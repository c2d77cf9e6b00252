package transport

import "crypto/tls"

// insecureTLSConfig returns a TLS config that skips certificate
// verification, used only when client.transport.websocket.insecure_skip_verify
// is explicitly set (self-signed or private CA deployments).
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
