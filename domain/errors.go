package domain

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-checkable error class. Every error that crosses
// the core boundary carries exactly one Kind so the transport can map it to
// a status code without string matching.
type Kind string

const (
	// KindValidation covers malformed or missing inputs: an empty query, or
	// a first turn with no image attached.
	KindValidation Kind = "validation_error"
	// KindImageProcessing covers undecodable or unencodable uploads.
	KindImageProcessing Kind = "image_processing_error"
	// KindModelCall covers upstream timeouts, non-success statuses and
	// malformed model responses.
	KindModelCall Kind = "model_call_error"
	// KindSessionBusy means another turn is already in flight for the
	// session. Retryable.
	KindSessionBusy Kind = "session_busy"
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = "internal_error"
)

// Error is the typed error surfaced at the core boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a boundary error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a boundary error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err, or KindInternal if it carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
