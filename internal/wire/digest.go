// Package wire implements the rathole client/server control-plane protocol:
// fixed-size Hello/Auth/Ack/command messages plus the one variable-length
// UDP traffic frame. Message shapes follow the upstream rathole protocol
// (bincode: little-endian u32 enum tags, raw fixed-width fields) so a Go
// client built on this package can talk to an existing rathole server.
package wire

import "crypto/sha256"

// DigestSize is the width of every Digest value (SHA-256 output).
const DigestSize = 32

// Digest is a 32-byte SHA-256 hash, used to label service names, session
// keys, and data-channel hellos.
type Digest [DigestSize]byte

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// SessionKey derives the session key for a control channel: the session key
// labels every subsequent data-channel hello for the lifetime of one
// authenticated session.
func SessionKey(token string, nonce Digest) Digest {
	buf := make([]byte, 0, len(token)+DigestSize)
	buf = append(buf, token...)
	buf = append(buf, nonce[:]...)
	return Sum(buf)
}
