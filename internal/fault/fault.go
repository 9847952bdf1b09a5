// Package fault defines the error taxonomy shared by the value algebra, the
// recording protocol and every backend.
//
// An *Error carries a kind (configuration, resource, disposed slot) and a
// detail error. errors.Is matches either, so callers can branch on the broad
// kind while tests assert on the precise cause.
package fault

import (
	"errors"
	"fmt"
)

// Kinds.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrResource      = errors.New("resource error")
	ErrDisposedSlot  = errors.New("disposed slot")
)

// Details.
var (
	ErrSizeMismatch    = errors.New("size mismatch")
	ErrInconsistentTag = errors.New("inconsistent time tag")
	ErrUnknownOpCode   = errors.New("unknown op code")
	ErrArityMismatch   = errors.New("arity mismatch")
	ErrDeviceNotFound  = errors.New("device not found")
)

type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Configuration reports a contract violation by the caller.
func Configuration(op string, err error) *Error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: err}
}

func Configurationf(op, format string, args ...interface{}) *Error {
	return Configuration(op, fmt.Errorf(format, args...))
}

// Resource reports a device allocation, compile or launch failure. The
// diagnostic text travels in err.
func Resource(op string, err error) *Error {
	return &Error{Kind: ErrResource, Op: op, Err: err}
}

func Resourcef(op, format string, args ...interface{}) *Error {
	return Resource(op, fmt.Errorf(format, args...))
}

func Disposed(op string, id int) *Error {
	return &Error{Kind: ErrDisposedSlot, Op: op, Err: fmt.Errorf("calculation id %d was disposed", id)}
}

// SizeMismatch builds the panic value used by the value algebra when two
// operands disagree on the number of paths.
func SizeMismatch(op string, x, y int) *Error {
	return Configuration(op, fmt.Errorf("%w: x size (%d) must be equal to y size (%d)", ErrSizeMismatch, x, y))
}

func InconsistentTag(op string, x, y float64) *Error {
	return Configuration(op, fmt.Errorf("%w: %v and %v", ErrInconsistentTag, x, y))
}

// KindOf returns a short label for metrics and logs.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDisposedSlot):
		return "disposed_slot"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "unknown"
	}
}

// Recover turns a *Error panic raised by the value algebra into a returned
// error. Any other panic is re-raised.
//
//	defer fault.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}
