package ext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
	"github.com/dshills/hearth/internal/native"
)

func createWindow(t *testing.T, p *native.Headless) bridge.WindowID {
	t.Helper()
	v, _, err := p.Desktop().Execute(bridge.CreateWindow{Label: "main"})
	require.NoError(t, err)
	return v.(bridge.WindowID)
}

// deliver moves queued desktop events into subscriptions.
func deliver(t *testing.T, h *harness, p *native.Headless) {
	t.Helper()
	_, err := p.Desktop().Flush(h.bridge)
	require.NoError(t, err)
	h.bridge.Route()
}

func TestIPCPostAndListen(t *testing.T) {
	h, p := uiHarness(t, ipcDescriptor, capability.RawPermissions{
		"ipc": {Allow: []string{"chat.*"}},
	})
	win := createWindow(t, p)

	v, err := h.call("post", int64(win), "chat.msg", "hi")
	require.NoError(t, err)
	assert.Equal(t, false, v, "no on_message handler yet")

	_, _, err = p.Desktop().Execute(bridge.EvalInWindow{Window: win, Code: `
		function on_message(channel, payload)
			set_content(channel .. "=" .. payload)
		end`})
	require.NoError(t, err)
	v, err = h.call("post", int64(win), "chat.msg", "hi")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	w, _, _ := p.Desktop().Snapshot()
	assert.Equal(t, "chat.msg=hi", w.Content)

	v, err = h.call("on", "chat.msg", stubCallback(7))
	require.NoError(t, err)
	l := v.(*extension.Listener)
	assert.Equal(t, stubCallback(7), l.Handler)
	assert.Equal(t, int64(1), h.keep.Count())

	_, _, err = p.Desktop().Execute(bridge.EvalInWindow{Window: win, Code: `
		post("chat.other", 1)
		post("chat.msg", {text = "yo"})`})
	require.NoError(t, err)
	deliver(t, h, p)

	got, ok := l.Stream.TryRecv()
	require.True(t, ok)
	msg := got.(bridge.IPCMessage)
	assert.Equal(t, win, msg.Window)
	assert.Equal(t, "chat.msg", msg.Channel)
	assert.Equal(t, map[string]any{"text": "yo"}, msg.Payload)
	_, ok = l.Stream.TryRecv()
	assert.False(t, ok, "other channels are filtered out")

	_, err = h.call("off", l.ID)
	require.NoError(t, err)
	assert.True(t, l.Stream.Closed())
	assert.Equal(t, int64(0), h.keep.Count())
	_, err = h.call("off", l.ID)
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)
}

func TestIPCChecks(t *testing.T) {
	h, p := uiHarness(t, ipcDescriptor, capability.RawPermissions{
		"ipc": {Allow: []string{"chat.*"}},
	})
	win := createWindow(t, p)

	_, err := h.call("post", int64(win), "admin", nil)
	assert.ErrorIs(t, err, capability.ErrDenied)
	_, err = h.call("on", "chat", stubCallback(1))
	assert.ErrorIs(t, err, capability.ErrDenied, "* needs exactly one more segment")
	_, err = h.call("on", "chat.msg", "not a function")
	assert.Error(t, err)

	_, err = h.call("post", int64(win)+50, "chat.msg", nil)
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)
}

func TestEventsOn(t *testing.T) {
	h, p := uiHarness(t, eventsDescriptor, nil)

	v, err := h.call("on", "window.*", stubCallback(1), map[string]any{"type": "closed"})
	require.NoError(t, err)
	closed := v.(*extension.Listener)
	v, err = h.call("on", "**", stubCallback(2))
	require.NoError(t, err)
	all := v.(*extension.Listener)
	assert.Equal(t, int64(2), h.keep.Count())

	win := createWindow(t, p)
	_, _, err = p.Desktop().Execute(bridge.CloseWindow{Window: win})
	require.NoError(t, err)
	deliver(t, h, p)

	got, ok := closed.Stream.TryRecv()
	require.True(t, ok)
	assert.Equal(t, bridge.WindowClosed{Window: win}, got)
	_, ok = closed.Stream.TryRecv()
	assert.False(t, ok)

	var types []string
	for {
		ev, ok := all.Stream.TryRecv()
		if !ok {
			break
		}
		types = append(types, ev.(bridge.Event).Type())
	}
	assert.Contains(t, types, "focused")
	assert.Contains(t, types, "closed")

	_, err = h.call("off", closed.ID)
	require.NoError(t, err)
	_, err = h.call("off", all.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.keep.Count())
}

func TestEventsNext(t *testing.T) {
	h := newHarness(t, eventsDescriptor(), nil)

	next, err := h.start("next", "app", map[string]any{"type": "key"})
	require.NoError(t, err)
	done, _, _ := next.Poll()
	assert.False(t, done)

	require.NoError(t, h.bridge.TryEmit(bridge.WindowClosed{Window: 1}))
	require.NoError(t, h.bridge.TryEmit(bridge.KeyPressed{Key: "enter"}))
	h.bridge.Route()

	done, v, err := next.Poll()
	require.True(t, done)
	require.NoError(t, err)
	assert.Equal(t, bridge.KeyPressed{Key: "enter"}, v)
}

func TestEventsNextAfterShutdown(t *testing.T) {
	h := newHarness(t, eventsDescriptor(), nil)
	h.bridge.Close()

	v, err := h.call("next", "**")
	assert.Nil(t, v)
	assert.ErrorIs(t, err, bridge.ErrClosed)
}

func TestEventsHideDeniedIPC(t *testing.T) {
	h, p := uiHarness(t, eventsDescriptor, capability.RawPermissions{
		"ipc": {Allow: []string{"chat.*"}},
	})
	win := createWindow(t, p)

	v, err := h.call("on", "window.*", stubCallback(1), map[string]any{"type": "ipc"})
	require.NoError(t, err)
	l := v.(*extension.Listener)
	next, err := h.start("next", "**", map[string]any{"type": "ipc"})
	require.NoError(t, err)

	_, _, err = p.Desktop().Execute(bridge.EvalInWindow{Window: win, Code: `
		post("secret", "token-123")
		post("chat.msg", "hi")`})
	require.NoError(t, err)
	deliver(t, h, p)

	got, ok := l.Stream.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "chat.msg", got.(bridge.IPCMessage).Channel)
	_, ok = l.Stream.TryRecv()
	assert.False(t, ok, "denied channels never reach listeners")

	done, v, err := next.Poll()
	require.True(t, done)
	require.NoError(t, err)
	assert.Equal(t, "chat.msg", v.(bridge.IPCMessage).Channel)
}

func TestEventsWithoutIPCPermission(t *testing.T) {
	h, p := uiHarness(t, eventsDescriptor, nil)
	win := createWindow(t, p)

	next, err := h.start("next", "window.*", map[string]any{"type": "ipc"})
	require.NoError(t, err)
	_, _, err = p.Desktop().Execute(bridge.EvalInWindow{Window: win, Code: `post("secret", "token-123")`})
	require.NoError(t, err)
	deliver(t, h, p)

	done, _, _ := next.Poll()
	assert.False(t, done)
}
