// Package herr defines the closed error taxonomy shared by every Herald
// component, so callers can branch on failure class without parsing
// strings.
package herr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the kinds enumerated by the
// storage/dedup engine's error handling design.
type Kind int

const (
	// KindUnknown is never produced by this package; it is the zero
	// value guard for Error values built without New, Wrap or Integrity.
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindIntegrity
	KindCorruptedData
	KindIO
	KindNetwork
	KindBusy
	KindInvalidInput
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindIntegrity:
		return "Integrity"
	case KindCorruptedData:
		return "CorruptedData"
	case KindIO:
		return "Io"
	case KindNetwork:
		return "Network"
	case KindBusy:
		return "Busy"
	case KindInvalidInput:
		return "InvalidInput"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Retriable reports whether the propagation policy (spec.md §7) allows
// a caller to retry an operation that failed with this kind without
// additional context.
func (k Kind) Retriable() bool {
	switch k {
	case KindIO, KindNetwork, KindBusy:
		return true
	default:
		return false
	}
}

// Error is the concrete error type returned by every Herald component.
// It always carries enough context to permit post-mortem without
// reproducing the failure: the offending subject (a hash, a manifest
// key, a (source,dataset) pair) and, for Integrity failures, both the
// expected and observed hash.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "sequence.Put", "manifest.Resolve"
	Subject string // the hash/key/reference the operation was acting on
	Err     error  // wrapped cause, if any

	// Expected/Actual are populated for KindIntegrity only.
	Expected string
	Actual   string
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindIntegrity:
		return fmt.Sprintf("%s: %s: integrity mismatch for %s: expected %s, got %s", e.Op, e.Kind, e.Subject, e.Expected, e.Actual)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Subject, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Subject)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is comparisons against a Kind by way of a sentinel
// wrapper, e.g. errors.Is(err, herr.KindError(herr.KindNotFound)); see
// KindError.
func (e *Error) Is(target error) bool {
	if ke, ok := target.(kindSentinel); ok {
		return e.Kind == ke.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (kindSentinel) Error() string { return "" }

// KindError returns a sentinel usable with errors.Is to test an
// Error's Kind, e.g. errors.Is(err, herr.KindError(herr.KindNotFound)).
func KindError(k Kind) error { return kindSentinel{kind: k} }

// New builds an Error of the given kind.
func New(kind Kind, op, subject string) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject}
}

// Wrap builds an Error of the given kind, wrapping cause.
func Wrap(kind Kind, op, subject string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: cause}
}

// Integrity builds a KindIntegrity error carrying both hashes.
func Integrity(op, subject, expected, actual string) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Subject: subject, Expected: expected, Actual: actual}
}

// Of reports the Kind of err if it is (or wraps) an *Error, else KindUnknown.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
