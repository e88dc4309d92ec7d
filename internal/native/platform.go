// Package native implements the native side of the bridge: a window arena
// with per-window render surfaces, and the platforms that own the run-loop.
//
// Two platforms exist. Terminal draws windows with tcell and turns terminal
// input into events. Headless has no display; dialogs and menus are answered
// by responder functions, which makes it the platform for tests and
// unattended runs.
package native

import (
	"errors"

	"github.com/dshills/hearth/internal/bridge"
)

// ErrUnsupported is returned for commands a platform cannot execute.
var ErrUnsupported = errors.New("command not supported by platform")

// Responder completes a command. Platforms call it exactly once per command,
// possibly on a later iteration.
type Responder func(value any, err error)

// Platform owns the native run-loop.
type Platform interface {
	// Desktop returns the window arena shared with the host.
	Desktop() *Desktop

	// Run blocks running the loop on the calling goroutine, calling
	// onIteration once per iteration until it returns false or Quit is
	// called.
	Run(onIteration func() bool) error

	// Execute performs a command on the loop goroutine.
	Execute(cmd bridge.Command, respond Responder)

	// Quit stops Run. It is safe to call from any goroutine.
	Quit()
}
