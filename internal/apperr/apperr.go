package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the core.
type Kind int

const (
	// KindUnknown covers errors that carry no explicit kind.
	KindUnknown Kind = iota
	// KindNotFound indicates no such record exists.
	KindNotFound
	// KindUnauthenticated indicates no valid session was presented.
	KindUnauthenticated
	// KindUnauthorised indicates a valid session whose capability was denied.
	KindUnauthorised
	// KindConflict indicates a uniqueness or accounting violation.
	KindConflict
	// KindInvalid indicates malformed caller input.
	KindInvalid
	// KindBackend indicates an underlying store or filesystem failure.
	KindBackend
	// KindSerialize indicates a value could not be encoded for storage.
	KindSerialize
	// KindDeserialize indicates data-at-rest corruption or schema skew.
	KindDeserialize
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorised:
		return "unauthorised"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindBackend:
		return "backend"
	case KindSerialize:
		return "serialize"
	case KindDeserialize:
		return "deserialize"
	default:
		return "unknown"
	}
}

// Error couples a kind with an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind with a static message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil cause yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for the common kinds.

func NotFound(msg string) error        { return New(KindNotFound, msg) }
func Unauthenticated(msg string) error { return New(KindUnauthenticated, msg) }
func Unauthorised(msg string) error    { return New(KindUnauthorised, msg) }
func Conflict(msg string) error        { return New(KindConflict, msg) }
func Invalid(msg string) error         { return New(KindInvalid, msg) }
func Backend(msg string, err error) error {
	if err == nil {
		return New(KindBackend, msg)
	}
	return Wrap(KindBackend, msg, err)
}
