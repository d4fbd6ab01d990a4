// Package qerr defines the structured error type surfaced by the data access
// engine. Every failure the engine reports carries a kind, a human-readable
// message, and optionally the originating error, so callers can map it onto
// their own wire format without string matching.
package qerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is the zero value; it should not appear in practice.
	KindUnknown Kind = iota
	// KindNotFound indicates a requested table, column, or relationship does
	// not exist in the loaded model. Never retried.
	KindNotFound
	// KindCompile indicates the request could not be turned into SQL. No SQL
	// has executed when this is reported.
	KindCompile
	// KindValidation indicates a transformer or precondition rejected a
	// mutation before any SQL ran.
	KindValidation
	// KindExecute indicates a database-level failure (unreachable, constraint
	// violation, timeout). Any open transaction has been rolled back.
	KindExecute
	// KindResolve indicates the materializer was asked for a field with no
	// column, join, or aggregate match.
	KindResolve
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCompile:
		return "compile"
	case KindValidation:
		return "validation"
	case KindExecute:
		return "execute"
	case KindResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing the engine boundary.
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

// New builds an engine error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an engine error around an originating error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing identifier by name.
func NotFound(what, name string) *Error {
	return New(KindNotFound, "%s %q not found", what, name)
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
