package source

import (
	"errors"
	"fmt"
)

// Kind classifies frame source acquisition failures.
type Kind int

const (
	// KindUnknown is any failure that does not fit another kind.
	KindUnknown Kind = iota
	// KindPermissionDenied means access to the device was refused.
	KindPermissionDenied
	// KindNotFound means no matching device exists.
	KindNotFound
	// KindNotReadable means the device exists but cannot deliver frames,
	// typically because another process holds it.
	KindNotReadable
	// KindOverconstrained means no device satisfies the requested constraints.
	KindOverconstrained
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindNotReadable:
		return "not_readable"
	case KindOverconstrained:
		return "overconstrained"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrNoCameraBackend is wrapped by camera errors when the binary was built
// without a camera backend.
var ErrNoCameraBackend = errors.New("no camera backend linked; build with -tags=camera_gocv")

// Error is a categorized acquisition failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("frame source: %s", e.Kind)
	}
	return fmt.Sprintf("frame source: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// wrap categorizes err as kind unless it already carries a kind.
func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}
