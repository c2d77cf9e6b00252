package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cryptossh "golang.org/x/crypto/ssh"
)

// loadOrGenerateHostKey reads an Ed25519 host key from path, generating and
// persisting a new one if it doesn't exist yet (mirrors
// tunnel.Server.loadOrGenerateHostKey).
func loadOrGenerateHostKey(path string) (cryptossh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	if err == nil {
		if b, _ := pem.Decode(data); b == nil {
			return nil, fmt.Errorf("host key file %s contains no PEM block", path)
		}
		key, err := cryptossh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		return cryptossh.NewSignerFromKey(key)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	pemBytes, err := encodeEd25519PEM(priv)
	if err != nil {
		return nil, fmt.Errorf("encode host key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create host key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}

	return cryptossh.NewSignerFromKey(priv)
}

func encodeEd25519PEM(priv ed25519.PrivateKey) ([]byte, error) {
	key, err := cryptossh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(key), nil
}
