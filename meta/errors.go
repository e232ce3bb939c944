package meta

import "errors"

// ErrProtocol classifies a malformed or out-of-sequence request line —
// spec §4.2 "failure always terminates the connection" and §7's
// "protocol violation" bucket.
var ErrProtocol = errors.New("meta: protocol violation")

// ErrAuth classifies a failed challenge/signature check (spec §7's
// "authentication failure" bucket).
var ErrAuth = errors.New("meta: authentication failure")

// ErrUnauthorized classifies a tunnel-server-mode ADD_SUBNET/ADD_EDGE
// asserting something the sender isn't entitled to (spec §4.2 "Authority
// rules").
var ErrUnauthorized = errors.New("meta: unauthorized assertion")
