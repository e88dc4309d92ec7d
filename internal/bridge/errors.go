package bridge

import "errors"

// Bridge errors.
var (
	// ErrClosed is returned when using a bridge after Close.
	ErrClosed = errors.New("bridge closed")

	// ErrCancelled resolves a request superseded in its exclusive slot.
	ErrCancelled = errors.New("request cancelled")

	// ErrShuttingDown resolves requests still pending when the bridge closes.
	ErrShuttingDown = errors.New("shutting down")

	// ErrInvalidHandle is returned for handles that do not name a live
	// resource.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrFull is returned by the Try variants when a channel is at capacity.
	// Callers retry; it is never reported to scripts.
	ErrFull = errors.New("bridge channel full")
)
