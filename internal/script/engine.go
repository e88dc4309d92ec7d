package script

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/extension"
)

// ModuleName is the global table, and require name, holding every
// registered operation.
const ModuleName = "hearth"

// Config configures an Engine.
type Config struct {
	// Bridge is routed at the start of every pump. May be nil.
	Bridge *bridge.Bridge

	Logger *slog.Logger

	// ExecutionTimeout bounds one resume. Zero uses
	// DefaultExecutionTimeout; negative disables it.
	ExecutionTimeout time.Duration
}

// Stats reports scheduler counters.
type Stats struct {
	Spawned   int64
	Completed int64
	Failed    int64
	Pumps     int64
}

// Engine runs scripts as cooperative tasks on one goroutine. Every method
// must be called from that goroutine.
type Engine struct {
	state  *State
	L      *lua.LState
	conv   *Converter
	bridge *bridge.Bridge
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	module *lua.LTable
	ops    map[string]extension.Op

	tasks     []*task
	nextTask  int64
	listeners []*listener
	nextCB    int64

	stats  Stats
	errs   []*TaskError
	closed bool
}

// New creates an engine with a fresh sandboxed state.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ExecutionTimeout
	switch {
	case timeout == 0:
		timeout = DefaultExecutionTimeout
	case timeout < 0:
		timeout = 0
	}

	state := NewState(WithLogger(logger), WithExecutionTimeout(timeout))
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		state:  state,
		L:      state.L,
		bridge: cfg.Bridge,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]extension.Op),
	}
	e.conv = NewConverter(e.L, e.capture)

	e.module = e.L.NewTable()
	e.L.SetGlobal(ModuleName, e.module)
	state.Sandbox().Preload(ModuleName, func(L *lua.LState) int {
		L.Push(e.module)
		return 1
	})
	e.installBuiltins()
	return e
}

// State returns the underlying state.
func (e *Engine) State() *State {
	return e.state
}

func (e *Engine) capture(fn *lua.LFunction) extension.Callback {
	e.nextCB++
	return &callback{id: e.nextCB, fn: fn}
}

// installBuiltins adds hearth.task.
func (e *Engine) installBuiltins() {
	t := e.L.NewTable()
	e.L.SetFuncs(t, map[string]lua.LGFunction{
		"spawn": func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			var args []lua.LValue
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, L.Get(i))
			}
			L.Push(lua.LNumber(e.spawn(fn, args...)))
			return 1
		},
		"yield": func(L *lua.LState) int {
			if L.Parent == nil {
				L.RaiseError("task.yield: %s", ErrNotInTask)
				return 0
			}
			return L.Yield()
		},
		"id": func(L *lua.LState) int {
			for _, t := range e.tasks {
				if t.co == L {
					L.Push(lua.LNumber(t.id))
					return 1
				}
			}
			L.Push(lua.LNil)
			return 1
		},
	})
	e.module.RawSetString("task", t)
}

// Register exposes a binding as hearth.<extension>.<op>.
func (e *Engine) Register(b extension.Binding) error {
	if _, dup := e.ops[b.Name]; dup {
		return fmt.Errorf("op %s: %w", b.Name, extension.ErrDuplicate)
	}
	parts := strings.Split(b.Name, ".")
	if len(parts) < 2 {
		return fmt.Errorf("op %q is not qualified", b.Name)
	}

	tbl := e.module
	for _, p := range parts[:len(parts)-1] {
		next, ok := tbl.RawGetString(p).(*lua.LTable)
		if !ok {
			next = e.L.NewTable()
			tbl.RawSetString(p, next)
		}
		tbl = next
	}
	e.ops[b.Name] = b.Op
	tbl.RawSetString(parts[len(parts)-1], e.L.NewFunction(e.wrap(b.Name, b.Op)))
	return nil
}

// RegisterAll registers every binding.
func (e *Engine) RegisterAll(bindings []extension.Binding) error {
	for _, b := range bindings {
		if err := e.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// wrap adapts an op to a Lua function. Failures return nil plus an error
// table; asynchronous ops suspend the calling task.
func (e *Engine) wrap(name string, op extension.Op) lua.LGFunction {
	if op.IsAsync() {
		return func(L *lua.LState) int {
			if L.Parent == nil {
				L.RaiseError("%s: %s", name, ErrNotInTask)
				return 0
			}
			call := &extension.Call{Ctx: e.ctx, Op: name, Args: e.conv.ArgsToGo(L, 1)}
			p, err := op.Async(call)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(ErrorTable(L, err))
				return 2
			}
			ud := L.NewUserData()
			ud.Value = p
			return L.Yield(ud)
		}
	}
	return func(L *lua.LState) int {
		call := &extension.Call{Ctx: e.ctx, Op: name, Args: e.conv.ArgsToGo(L, 1)}
		v, err := op.Sync(call)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(ErrorTable(L, err))
			return 2
		}
		if l, ok := v.(*extension.Listener); ok {
			e.addListener(l)
			L.Push(lua.LNumber(l.ID))
			return 1
		}
		L.Push(e.conv.ToLua(v))
		return 1
	}
}

// RunFile loads the file at path and spawns it as the entry task.
func (e *Engine) RunFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading entry script: %w", err)
	}
	return e.RunString(string(data), path)
}

// RunString compiles code and spawns it as a task. name appears in error
// messages.
func (e *Engine) RunString(code, name string) (int64, error) {
	if e.closed {
		return 0, ErrStateClosed
	}
	fn, err := e.L.Load(strings.NewReader(code), name)
	if err != nil {
		return 0, fmt.Errorf("compiling %s: %w", name, err)
	}
	return e.spawn(fn), nil
}

// Spawn starts fn as a new task.
func (e *Engine) Spawn(fn *lua.LFunction, args ...any) int64 {
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = e.conv.ToLua(a)
	}
	return e.spawn(fn, largs...)
}

// TaskCount returns the number of live tasks.
func (e *Engine) TaskCount() int {
	return len(e.tasks)
}

// ListenerCount returns the number of live listeners.
func (e *Engine) ListenerCount() int {
	return len(e.listeners)
}

// Idle reports whether no task is live.
func (e *Engine) Idle() bool {
	return len(e.tasks) == 0
}

// Stats returns the scheduler counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Errors returns the failures of finished tasks.
func (e *Engine) Errors() []*TaskError {
	out := make([]*TaskError, len(e.errs))
	copy(out, e.errs)
	return out
}

// Global converts the named global to Go.
func (e *Engine) Global(name string) any {
	return e.conv.ToGo(e.L.GetGlobal(name))
}

// Close drops every task and releases the state.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.cancel()
	for _, t := range e.tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	e.tasks = nil
	e.listeners = nil
	return e.state.Close()
}
