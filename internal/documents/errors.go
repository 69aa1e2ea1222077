package documents

import "errors"

var (
	// ErrNotFound indicates a missing document record.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput indicates a malformed upload or request.
	ErrInvalidInput = errors.New("invalid input")
)
