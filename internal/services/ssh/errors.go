package ssh

import "errors"

var (
	errNoAuthMethodConfigured = errors.New("ssh: neither username/password nor authorized_keys is configured")
	errHostKeyPathRequired    = errors.New("ssh: host_key_path is required")
	errUnsupportedChannelType = errors.New("ssh: only \"session\" channels are supported")
)
