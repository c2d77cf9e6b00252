package vnc

import "errors"

var errNoListenTarget = errors.New("vnc: listen_hint is required")
