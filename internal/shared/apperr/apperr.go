// Package apperr defines the error taxonomy shared by the structuring
// pipeline and the comparison engine. Every failure crossing a component
// boundary is classified into one of the kinds below so that callers can
// choose between retrying, substituting an empty result, and failing the job.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindInput covers malformed uploads, unsupported media types, and size overflow.
	KindInput
	// KindExtraction covers irrecoverable stage failures such as corrupt PDFs.
	KindExtraction
	// KindModel covers LLM or embedding calls that failed or returned malformed output.
	KindModel
	// KindConfig covers missing required settings at startup.
	KindConfig
	// KindConcurrency covers lock acquisition timeouts.
	KindConcurrency
	// KindTimeout covers per-request deadlines; treated as KindModel by callers.
	KindTimeout
	// KindRetentionExpired covers reads of documents past their retention deadline.
	KindRetentionExpired
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindExtraction:
		return "extraction"
	case KindModel:
		return "model"
	case KindConfig:
		return "config"
	case KindConcurrency:
		return "concurrency"
	case KindTimeout:
		return "timeout"
	case KindRetentionExpired:
		return "retention_expired"
	default:
		return "unknown"
	}
}

// Error pairs a kind with a wrapped cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New wraps err with a kind. A nil err yields a bare kind error.
func New(kind Kind, err error) error {
	return &Error{kind: kind, err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err, unwrapping as needed.
// Timeouts report KindTimeout even when wrapped inside other kinds.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Input is shorthand for New(KindInput, err).
func Input(format string, args ...any) error { return Newf(KindInput, format, args...) }

// Extraction is shorthand for New(KindExtraction, err).
func Extraction(format string, args ...any) error { return Newf(KindExtraction, format, args...) }

// Model is shorthand for New(KindModel, err).
func Model(format string, args ...any) error { return Newf(KindModel, format, args...) }

// Timeout is shorthand for New(KindTimeout, err).
func Timeout(format string, args ...any) error { return Newf(KindTimeout, format, args...) }

// Concurrency is shorthand for New(KindConcurrency, err).
func Concurrency(format string, args ...any) error { return Newf(KindConcurrency, format, args...) }

// RetentionExpired is shorthand for New(KindRetentionExpired, err).
func RetentionExpired(format string, args ...any) error {
	return Newf(KindRetentionExpired, format, args...)
}
