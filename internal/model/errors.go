package model

import "errors"

// Error taxonomy shared across components. Radio-level protocol failures are
// recovered locally by the scanner; the rest surface to callers.
var (
	// ErrProtocolMismatch: a peer did not expose the expected service or
	// characteristic, or a push payload was malformed.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrEncryptionFailure: key material missing or invalid. Raised before
	// any network call is attempted.
	ErrEncryptionFailure = errors.New("encryption failure")

	// ErrStatusMismatch: the server echoed a status different from the one
	// submitted. Never retried automatically.
	ErrStatusMismatch = errors.New("status mismatch")

	// ErrUnregistered: an operation needing credentials ran before
	// registration completed.
	ErrUnregistered = errors.New("device not registered")

	// ErrInvalidParameter: an argument outside its documented range.
	ErrInvalidParameter = errors.New("invalid parameter")
)
