package gateway

import "errors"

var (
	// ErrTokenInvalid is returned when a proxy request presents a token that
	// was never issued or has expired. No upstream call is attempted.
	ErrTokenInvalid = errors.New("session token invalid or expired")

	// ErrNotFound is returned when an episode cannot be resolved to a
	// manifest URL, including when script extraction yields nothing.
	ErrNotFound = errors.New("manifest not resolvable")
)
