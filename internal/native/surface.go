package native

import (
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/script"
)

// SurfaceTimeout bounds one evaluation in a render surface.
const SurfaceTimeout = time.Second

// Surface is a window's render surface: a small sandboxed Lua state that
// runs code sent with EvalInWindow and receives PostToWindow messages. It
// talks back through two globals:
//
//	post(channel, payload)   -- emits an IPCMessage on the window source
//	set_content(text)        -- replaces the window content
//
// Messages posted to the window invoke the global on_message(channel,
// payload) when defined.
type Surface struct {
	window bridge.WindowID
	state  *script.State
}

// surfaceHost is what a surface reports to.
type surfaceHost interface {
	Emit(ev bridge.Event)
	setContent(id bridge.WindowID, content string)
}

func newSurface(id bridge.WindowID, host surfaceHost, logger *slog.Logger) *Surface {
	st := script.NewState(
		script.WithLogger(logger.With("window", uint64(id))),
		script.WithExecutionTimeout(SurfaceTimeout),
	)
	s := &Surface{window: id, state: st}

	conv := script.NewConverter(st.L, nil)
	st.SetGlobalFunc("post", func(L *lua.LState) int {
		channel := L.CheckString(1)
		host.Emit(bridge.IPCMessage{Window: id, Channel: channel, Payload: conv.ToGo(L.Get(2))})
		return 0
	})
	st.SetGlobalFunc("set_content", func(L *lua.LState) int {
		host.setContent(id, L.CheckString(1))
		return 0
	})
	st.L.SetGlobal("window_id", lua.LNumber(id))
	return s
}

// Eval runs code and returns its first result.
func (s *Surface) Eval(code string) (any, error) {
	return s.state.Eval(code)
}

// Deliver calls on_message. It reports whether a handler exists.
func (s *Surface) Deliver(channel string, payload any) (bool, error) {
	return s.state.CallGlobal("on_message", channel, payload)
}

// Close releases the surface state.
func (s *Surface) Close() error {
	return s.state.Close()
}
