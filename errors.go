package fluxer

import "errors"

// Sentinel errors for common conditions.
var (
	ErrMissingToken = errors.New("fluxer: missing token")
	ErrClosed       = errors.New("fluxer: client closed")
)
