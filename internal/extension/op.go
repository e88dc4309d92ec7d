package extension

import (
	"context"
	"fmt"
	"math"

	"github.com/dshills/hearth/internal/bridge"
)

// Poller is a pending asynchronous result. The script engine polls it once
// per pump and resumes the waiting task when done is true.
type Poller interface {
	Poll() (done bool, value any, err error)
}

// Go runs fn on a worker goroutine and returns its pending result.
func Go(fn func() (any, error)) Poller {
	return bridge.Go(fn)
}

// Ready returns a poller that is already complete.
func Ready(value any, err error) Poller {
	return bridge.Resolved(value, err)
}

// PollFunc adapts a function to Poller.
type PollFunc func() (done bool, value any, err error)

// Poll calls f.
func (f PollFunc) Poll() (bool, any, error) {
	return f()
}

// Callback is a script function captured as an argument. Extensions cannot
// call it directly; they hand it back to the engine inside a Listener.
type Callback interface {
	CallbackID() int64
}

// Stream yields values for a Listener.
type Stream interface {
	TryRecv() (any, bool)
	Closed() bool
}

// Listener asks the engine to invoke Handler, as a new task, for every value
// the stream yields until the stream closes. A sync op returning a
// *Listener gives the script the listener id.
type Listener struct {
	ID      int64
	Stream  Stream
	Handler Callback
}

// SyncFunc runs on the script goroutine and must not block.
type SyncFunc func(c *Call) (any, error)

// AsyncFunc starts work and returns its pending result. It runs on the
// script goroutine; blocking work belongs on worker goroutines.
type AsyncFunc func(c *Call) (Poller, error)

// Op is one script-callable operation. Exactly one of Sync and Async is
// set.
type Op struct {
	Name  string
	Sync  SyncFunc
	Async AsyncFunc
}

// IsAsync reports whether calling the op suspends the calling task.
func (o Op) IsAsync() bool {
	return o.Async != nil
}

// Call carries converted script arguments. Values are nil, bool, int64,
// float64, string, []any, map[string]any or Callback.
type Call struct {
	Ctx  context.Context
	Op   string
	Args []any
}

// Len returns the number of arguments.
func (c *Call) Len() int {
	return len(c.Args)
}

// Arg returns argument i or nil.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

func (c *Call) argErr(i int, want string) error {
	return &ArgError{Op: c.Op, Index: i, Want: want, Got: typeName(c.Arg(i))}
}

// String returns argument i as a string.
func (c *Call) String(i int) (string, error) {
	if s, ok := c.Arg(i).(string); ok {
		return s, nil
	}
	return "", c.argErr(i, "string")
}

// OptString returns argument i as a string, or def when absent.
func (c *Call) OptString(i int, def string) (string, error) {
	if c.Arg(i) == nil {
		return def, nil
	}
	return c.String(i)
}

// Int returns argument i as an integer.
func (c *Call) Int(i int) (int64, error) {
	switch v := c.Arg(i).(type) {
	case int64:
		return v, nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v), nil
		}
	}
	return 0, c.argErr(i, "integer")
}

// OptInt returns argument i as an integer, or def when absent.
func (c *Call) OptInt(i int, def int64) (int64, error) {
	if c.Arg(i) == nil {
		return def, nil
	}
	return c.Int(i)
}

// OptBool returns argument i as a boolean, or def when absent.
func (c *Call) OptBool(i int, def bool) (bool, error) {
	switch v := c.Arg(i).(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	}
	return false, c.argErr(i, "boolean")
}

// Table returns argument i as a map. An empty table is an empty map.
func (c *Call) Table(i int) (map[string]any, error) {
	switch v := c.Arg(i).(type) {
	case map[string]any:
		return v, nil
	case []any:
		if len(v) == 0 {
			return map[string]any{}, nil
		}
	}
	return nil, c.argErr(i, "table")
}

// OptTable returns argument i as a map, or an empty map when absent.
func (c *Call) OptTable(i int) (map[string]any, error) {
	if c.Arg(i) == nil {
		return map[string]any{}, nil
	}
	return c.Table(i)
}

// List returns argument i as a list. An empty table is an empty list.
func (c *Call) List(i int) ([]any, error) {
	switch v := c.Arg(i).(type) {
	case []any:
		return v, nil
	case map[string]any:
		if len(v) == 0 {
			return []any{}, nil
		}
	case nil:
		return nil, nil
	}
	return nil, c.argErr(i, "list")
}

// Callback returns argument i as a script function.
func (c *Call) Callback(i int) (Callback, error) {
	if cb, ok := c.Arg(i).(Callback); ok {
		return cb, nil
	}
	return nil, c.argErr(i, "function")
}

// StringField returns m[key] as a string, or def.
func StringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

// IntField returns m[key] as an integer, or def.
func IntField(m map[string]any, key string, def int64) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

// BoolField returns m[key] as a boolean, or def.
func BoolField(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case string:
		return "string"
	case []any, map[string]any:
		return "table"
	case Callback:
		return "function"
	default:
		return fmt.Sprintf("%T", v)
	}
}
