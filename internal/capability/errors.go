package capability

import (
	"errors"
	"fmt"
)

// ErrDenied matches every *DeniedError via errors.Is.
var ErrDenied = errors.New("capability denied")

// DeniedError reports a refused operation.
type DeniedError struct {
	Class   Class
	Subject string

	// Rule is the deny pattern that matched, or empty for default deny.
	Rule string
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("capability %q denied for %q: matched deny rule %q", e.Class, e.Subject, e.Rule)
	}
	return fmt.Sprintf("capability %q denied for %q: no matching allow rule", e.Class, e.Subject)
}

// Is reports whether target is ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// CompileError reports an invalid permission declaration.
type CompileError struct {
	Class   string
	Pattern string
	Message string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("permissions: %s: pattern %q: %s", e.Class, e.Pattern, e.Message)
	}
	return fmt.Sprintf("permissions: %s: %s", e.Class, e.Message)
}
