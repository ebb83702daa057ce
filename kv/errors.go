// Package kv defines the polymorphic key/value engine contract (§4.3 of the
// storage-core specification) consumed by the pager and by the collection
// layer above it.
package kv

import "github.com/pkg/errors"

// Kind is the error taxonomy from §7: every recoverable or surfaced failure
// in the storage core maps to exactly one Kind.
type Kind int

const (
	OK Kind = iota
	Done
	NoMem
	IOErr
	Busy
	Locked
	ReadOnly
	Corrupt
	Full
	NotFound
	EOF
	NotImplemented
	Limit
	Abort
	Invalid
	Perm
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case Done:
		return "DONE"
	case NoMem:
		return "NOMEM"
	case IOErr:
		return "IOERR"
	case Busy:
		return "BUSY"
	case Locked:
		return "LOCKED"
	case ReadOnly:
		return "READ_ONLY"
	case Corrupt:
		return "CORRUPT"
	case Full:
		return "FULL"
	case NotFound:
		return "NOTFOUND"
	case EOF:
		return "EOF"
	case NotImplemented:
		return "NOTIMPLEMENTED"
	case Limit:
		return "LIMIT"
	case Abort:
		return "ABORT"
	case Invalid:
		return "INVALID"
	case Perm:
		return "PERM"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type returned by every storage-core operation.
// It carries a Kind so callers can branch on taxonomy (§7) while still
// getting a wrapped cause chain for the handle's error log.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && te.Kind == e.Kind
}

// New builds a bare Error of the given Kind.
func New(k Kind) *Error { return &Error{Kind: k} }

// Wrap attaches msg as context on err and tags it with Kind, preserving the
// original cause via github.com/pkg/errors so the handle's error log can
// render a full stack-carrying chain.
func Wrap(k Kind, err error, msg string) *Error {
	if err == nil {
		return &Error{Kind: k, cause: errors.New(msg)}
	}
	return &Error{Kind: k, cause: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with format arguments.
func Wrapf(k Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return &Error{Kind: k, cause: errors.Errorf(format, args...)}
	}
	return &Error{Kind: k, cause: errors.Wrapf(err, format, args...)}
}

// KindOf extracts the Kind of err, defaulting to IOErr for foreign errors
// (anything not produced by this package but surfaced through it).
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IOErr
}

// IsNotFound reports whether err is a NotFound/EOF lookup termination.
func IsNotFound(err error) bool {
	k := KindOf(err)
	return k == NotFound || k == EOF
}
