package script

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hearth/internal/extension"
)

// task is one script coroutine.
type task struct {
	id     int64
	co     *lua.LState
	cancel context.CancelFunc
	fn     *lua.LFunction

	// args are passed on the first resume, resume on later ones.
	args    []lua.LValue
	resume  []lua.LValue
	started bool

	// wait is the pending result the task is suspended on. A nil wait
	// means the task is runnable.
	wait extension.Poller
	done bool
}

// listener spawns a task for every value its stream yields.
type listener struct {
	id      int64
	stream  extension.Stream
	handler *lua.LFunction
}

// spawn creates a runnable task. It first runs on the next pump.
func (e *Engine) spawn(fn *lua.LFunction, args ...lua.LValue) int64 {
	co, cancel := e.L.NewThread()
	e.nextTask++
	t := &task{
		id:     e.nextTask,
		co:     co,
		cancel: cancel,
		fn:     fn,
		args:   args,
	}
	e.tasks = append(e.tasks, t)
	e.stats.Spawned++
	return t.id
}

// Pump routes bridge events, turns listener values into tasks, and resumes
// every task whose pending result is ready. Each task resumes at most once
// per pump; tasks spawned during the pump first run on the next one. It
// returns the number of tasks resumed.
func (e *Engine) Pump() int {
	if e.closed {
		return 0
	}
	if e.bridge != nil {
		e.bridge.Route()
	}
	e.drainListeners()

	runnable := make([]*task, len(e.tasks))
	copy(runnable, e.tasks)

	ran := 0
	for _, t := range runnable {
		if t.done {
			continue
		}
		if t.wait != nil {
			done, value, err := t.wait.Poll()
			if !done {
				continue
			}
			t.wait = nil
			if err != nil {
				t.resume = []lua.LValue{lua.LNil, ErrorTable(e.L, err)}
			} else {
				t.resume = []lua.LValue{e.conv.ToLua(value)}
			}
		}
		e.step(t)
		ran++
	}

	live := e.tasks[:0]
	for _, t := range e.tasks {
		if !t.done {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(e.tasks); i++ {
		e.tasks[i] = nil
	}
	e.tasks = live
	e.stats.Pumps++
	return ran
}

// step resumes t once.
func (e *Engine) step(t *task) {
	ctx, cancel := e.ctx, context.CancelFunc(func() {})
	if timeout := e.state.ExecutionTimeout(); timeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, timeout)
	}
	t.co.SetContext(ctx)

	var (
		st  lua.ResumeState
		err error
		ret []lua.LValue
	)
	if !t.started {
		t.started = true
		args := t.args
		t.args = nil
		st, err, ret = e.L.Resume(t.co, t.fn, args...)
	} else {
		args := t.resume
		t.resume = nil
		st, err, ret = e.L.Resume(t.co, t.fn, args...)
	}
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()
	t.co.RemoveContext()

	switch st {
	case lua.ResumeYield:
		if len(ret) > 0 {
			if ud, ok := ret[0].(*lua.LUserData); ok {
				if p, ok := ud.Value.(extension.Poller); ok {
					t.wait = p
					return
				}
			}
		}
	case lua.ResumeOK:
		e.finish(t, nil)
	default:
		if timedOut {
			err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
		e.finish(t, err)
	}
}

func (e *Engine) finish(t *task, err error) {
	t.done = true
	t.wait = nil
	if t.cancel != nil {
		t.cancel()
	}
	if err == nil {
		e.stats.Completed++
		return
	}
	e.stats.Failed++
	terr := &TaskError{Task: t.id, Err: err}
	e.errs = append(e.errs, terr)
	e.logger.Error("script task failed", "task", t.id, "error", err)
}

func (e *Engine) addListener(l *extension.Listener) {
	cb, ok := l.Handler.(*callback)
	if !ok || l.Stream == nil {
		return
	}
	e.listeners = append(e.listeners, &listener{id: l.ID, stream: l.Stream, handler: cb.fn})
}

// listenerBatch caps the handler tasks one listener spawns per pump, so a
// flood of events backs up in the bridge instead of in the task list.
const listenerBatch = 64

func (e *Engine) drainListeners() {
	live := e.listeners[:0]
	for _, l := range e.listeners {
		closed := l.stream.Closed()
		drained := false
		for n := 0; n < listenerBatch; n++ {
			v, ok := l.stream.TryRecv()
			if !ok {
				drained = true
				break
			}
			e.spawn(l.handler, e.conv.ToLua(v))
		}
		if !closed || !drained {
			live = append(live, l)
		}
	}
	for i := len(live); i < len(e.listeners); i++ {
		e.listeners[i] = nil
	}
	e.listeners = live
}
