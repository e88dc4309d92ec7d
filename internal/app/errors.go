package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called while the loop is running.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrShutDown indicates the application was already shut down.
	ErrShutDown = errors.New("application shut down")

	// ErrNoManifest indicates neither a manifest nor an entry script was
	// given.
	ErrNoManifest = errors.New("no manifest or entry script")
)

// InitError reports a component that failed to initialize. It is fatal.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ExitError carries a non-zero exit code requested by the script through
// app.exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the process exit code for err: 0 for nil, the requested
// code for *ExitError, 2 for initialization failures and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	var ie *InitError
	if errors.As(err, &ie) {
		return 2
	}
	return 1
}
