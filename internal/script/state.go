// Package script hosts the Lua script context: a sandboxed gopher-lua state,
// value conversion between Go and Lua, and a cooperative scheduler that runs
// script tasks as coroutines pumped from the native run-loop.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds one resume of a task, the Lua code that
// runs between two suspensions.
const DefaultExecutionTimeout = 5 * time.Second

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. A State, and every coroutine
// created from it, must only be used from one goroutine.
type State struct {
	L *lua.LState

	executionTimeout time.Duration
	logger           *slog.Logger
	sandbox          *Sandbox
	closed           bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the per-resume timeout. Zero disables it.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithLogger sets the logger that receives print output.
func WithLogger(l *slog.Logger) StateOption {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	s := &State{
		executionTimeout: DefaultExecutionTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	s.L = L
	openSafeLibraries(L)

	s.sandbox = NewSandbox(L, s.logger)
	s.sandbox.Install()
	return s
}

// openSafeLibraries opens only safe Lua standard libraries. io, os, debug
// and coroutine stay closed; tasks replace coroutines.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// Sandbox returns the sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// ExecutionTimeout returns the per-resume timeout.
func (s *State) ExecutionTimeout() time.Duration {
	return s.executionTimeout
}

// DoString runs code synchronously on the main state. Scripts run this way
// cannot call asynchronous operations.
func (s *State) DoString(code string) error {
	if s.closed {
		return ErrStateClosed
	}
	return s.doWithRecovery(func() error {
		return s.L.DoString(code)
	})
}

// Eval runs code and returns its first result converted to Go.
func (s *State) Eval(code string) (any, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	var out any
	err := s.doWithRecovery(func() error {
		fn, err := s.L.LoadString(code)
		if err != nil {
			return err
		}
		top := s.L.GetTop()
		s.L.Push(fn)
		if err := s.L.PCall(0, 1, nil); err != nil {
			return err
		}
		out = NewConverter(s.L, nil).ToGo(s.L.Get(-1))
		s.L.SetTop(top)
		return nil
	})
	return out, err
}

// CallGlobal calls a global function if it exists. It reports false when
// the global is not a function.
func (s *State) CallGlobal(name string, args ...any) (bool, error) {
	if s.closed {
		return false, ErrStateClosed
	}
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return false, nil
	}
	conv := NewConverter(s.L, nil)
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = conv.ToLua(a)
	}
	err := s.doWithRecovery(func() error {
		return s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, largs...)
	})
	return true, err
}

// doWithRecovery runs fn under the execution timeout and converts panics
// into errors.
func (s *State) doWithRecovery(fn func() error) (err error) {
	if s.executionTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout)
		s.L.SetContext(ctx)
		defer func() {
			timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
			cancel()
			s.L.RemoveContext()
			if err != nil && timedOut {
				err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
			}
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// SetGlobalFunc registers a Go function as a global.
func (s *State) SetGlobalFunc(name string, fn lua.LGFunction) {
	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// Close releases the Lua state.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}

// IsClosed reports whether Close was called.
func (s *State) IsClosed() bool {
	return s.closed
}
