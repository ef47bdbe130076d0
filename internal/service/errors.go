package service

import (
	"errors"
	"fmt"
)

// Kind classifies a failed relay request.
type Kind string

const (
	KindMissingInput         Kind = "MISSING_INPUT"
	KindUnsupportedMediaType Kind = "UNSUPPORTED_MEDIA_TYPE"
	KindPayloadTooLarge      Kind = "PAYLOAD_TOO_LARGE"
	KindUpstreamFailure      Kind = "UPSTREAM_FAILURE"
	KindInternal             Kind = "INTERNAL_ERROR"
)

const (
	msgMissingInput    = "No image file provided"
	msgUnsupportedType = "Only image files are allowed!"
	msgInternal        = "Error processing image"
)

// Error is returned by ImageService for every failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage is the text safe to return to the caller. Internal faults
// only expose a generic message; upstream failures carry the upstream detail.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return e.Message
	}
	return e.Error()
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func internalError(err error) *Error {
	return newError(KindInternal, msgInternal, err)
}

// KindOf returns the Kind carried by err. Errors that did not come from this
// package are reported as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
