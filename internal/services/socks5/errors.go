package socks5

import "errors"

var (
	errRequireAuthNeedsCredentials = errors.New("socks5: require_auth is set but username/password are empty")
	errNoAcceptableAuthMethod      = errors.New("socks5: client offered no acceptable auth method")
	errAuthFailed                  = errors.New("socks5: username/password authentication failed")
	errUnsupportedCommand          = errors.New("socks5: BIND is not supported")
	errUnsupportedAddressType      = errors.New("socks5: unsupported address type")
	errDomainTooLong               = errors.New("socks5: domain name exceeds 255 bytes")
	errUDPAssociateDisabled        = errors.New("socks5: udp associate is disabled by config (allow_udp)")
)
