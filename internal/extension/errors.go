package extension

import (
	"errors"
	"fmt"
)

// Extension errors.
var (
	// ErrUnavailable is returned by operations of an optional extension that
	// failed to initialize, and for operations nobody registered.
	ErrUnavailable = errors.New("operation not available")

	// ErrTierViolation is returned when an init function asks for a resource
	// its tier cannot observe.
	ErrTierViolation = errors.New("resource not available at this tier")

	// ErrDuplicate is returned when registering a name twice.
	ErrDuplicate = errors.New("extension already registered")

	// ErrAlreadyInitialized is returned when InitAll runs twice.
	ErrAlreadyInitialized = errors.New("extensions already initialized")
)

// InitError reports a required extension that failed to initialize.
type InitError struct {
	Extension string
	Tier      Tier
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("extension %s (tier %s) failed to initialize: %v", e.Extension, e.Tier, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ArgError reports a script argument of the wrong type.
type ArgError struct {
	Op    string
	Index int
	Want  string
	Got   string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: bad argument #%d (%s expected, got %s)", e.Op, e.Index+1, e.Want, e.Got)
}
