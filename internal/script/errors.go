package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// Errors for script execution.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when one resume runs too long.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotInTask is raised when an asynchronous operation is called
	// outside a task, for example from the main chunk of DoString.
	ErrNotInTask = errors.New("asynchronous operation called outside a task")
)

// Error kinds seen by scripts in err.kind.
const (
	KindInitialization   = "InitializationError"
	KindNotFound         = "NotFound"
	KindCapabilityDenied = "CapabilityDenied"
	KindBridgeClosed     = "BridgeClosed"
	KindCancelled        = "Cancelled"
	KindShuttingDown     = "ShuttingDown"
	KindInvalidHandle    = "InvalidHandle"
	KindError            = "Error"
)

// ErrorKind classifies err for scripts.
func ErrorKind(err error) string {
	var (
		initErr    *extension.InitError
		compileErr *capability.CompileError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capability.ErrDenied):
		return KindCapabilityDenied
	case errors.Is(err, extension.ErrUnavailable):
		return KindNotFound
	case errors.Is(err, bridge.ErrCancelled):
		return KindCancelled
	case errors.Is(err, bridge.ErrShuttingDown):
		return KindShuttingDown
	case errors.Is(err, bridge.ErrClosed):
		return KindBridgeClosed
	case errors.Is(err, bridge.ErrInvalidHandle):
		return KindInvalidHandle
	case errors.As(err, &initErr), errors.As(err, &compileErr):
		return KindInitialization
	default:
		return KindError
	}
}

// ErrorTable converts err to the table scripts receive as the second
// result of a failed operation: {kind, message, class?, subject?}.
func ErrorTable(L *lua.LState, err error) *lua.LTable {
	t := L.CreateTable(0, 4)
	t.RawSetString("kind", lua.LString(ErrorKind(err)))
	t.RawSetString("message", lua.LString(err.Error()))

	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		t.RawSetString("class", lua.LString(string(denied.Class)))
		t.RawSetString("subject", lua.LString(denied.Subject))
		if denied.Rule != "" {
			t.RawSetString("rule", lua.LString(denied.Rule))
		}
	}

	mt := L.NewTable()
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		self := L.CheckTable(1)
		L.Push(lua.LString(self.RawGetString("kind").String() + ": " + self.RawGetString("message").String()))
		return 1
	}))
	L.SetMetatable(t, mt)
	return t
}

// TaskError reports a task that ended with a Lua error.
type TaskError struct {
	Task int64
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
