package manifest

import "fmt"

// Error reports a manifest that cannot be decoded or fails validation.
type Error struct {
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest error in %s: %s", e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
