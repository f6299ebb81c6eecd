package validate

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotString indicates a text field holding a non-string value.
	ErrNotString = errors.New("not a string")
	// ErrTooLong indicates a value over its maximum length.
	ErrTooLong = errors.New("too long")
	// ErrInvalidScheme indicates a URL outside the allowed schemes.
	ErrInvalidScheme = errors.New("invalid scheme")
	// ErrInvalidDomain indicates a URL whose host is not the expected origin.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrNotEnum indicates a value outside the enumeration.
	ErrNotEnum = errors.New("not a valid enum")
	// ErrNotArray indicates a non-array value.
	ErrNotArray = errors.New("not an array")
	// ErrNotObject indicates a non-object value.
	ErrNotObject = errors.New("not an object")
	// ErrUnrecognizedField indicates a field a fail-closed object does not allow.
	ErrUnrecognizedField = errors.New("unrecognized field")
	// ErrMissingField indicates an absent required field.
	ErrMissingField = errors.New("required")
)

// Error is a validation failure at a field path.
type Error struct {
	Path []string
	Err  error
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return e.Err.Error()
	}
	return strings.Join(e.Path, ".") + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Field returns the dotted path of the failing field.
func (e *Error) Field() string { return strings.Join(e.Path, ".") }

func fail(err error) error {
	return &Error{Err: err}
}

// at prefixes the path of a nested failure with name.
func at(name string, err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return &Error{Path: append([]string{name}, verr.Path...), Err: verr.Err}
	}
	return &Error{Path: []string{name}, Err: err}
}
