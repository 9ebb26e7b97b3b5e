// Package apperror tags errors with the failure-kind taxonomy the repository
// and search engine surface to collaborators, so the HTTP layer and the
// transaction-bundle processor can branch on kind instead of string matching.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds in the repository/search error taxonomy.
type Kind string

const (
	NotFound             Kind = "not-found"
	Gone                 Kind = "gone"
	VersionConflict      Kind = "conflict"
	InvalidInput         Kind = "invalid"
	SerializationFailure Kind = "serialization-failure"
	DatabaseError        Kind = "exception"
	FHIRPathError        Kind = "fhirpath-error"
)

// Error wraps an underlying cause with a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind tagged on err, or DatabaseError if err carries no
// *Error in its chain (i.e. an unclassified internal failure).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return DatabaseError
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Invalidf(format string, args ...interface{}) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}
