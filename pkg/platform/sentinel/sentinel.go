// Package sentinel holds infrastructure error facts. Ledgers and stores return them
// wrapped so callers can branch with errors.Is without parsing messages.
package sentinel

import "errors"

var (
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write lost against current state, such as a stale nonce.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the record exists but is in the wrong stage for the operation.
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
