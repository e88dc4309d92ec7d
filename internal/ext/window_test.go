package ext

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
	"github.com/dshills/hearth/internal/native"
)

func uiHarness(t *testing.T, d func() extension.Descriptor, perms capability.RawPermissions, opts ...native.HeadlessOption) (*harness, *native.Headless) {
	t.Helper()
	h := newHarness(t, d(), perms)
	p := native.NewHeadless(opts...)
	t.Cleanup(func() { p.Desktop().Close() })
	h.serve(p)
	return h, p
}

func TestWindowLifecycle(t *testing.T) {
	h, p := uiHarness(t, windowDescriptor, capability.RawPermissions{
		"ui.window": {Allow: []string{"main", "tools"}},
	})

	v, err := h.call("create", map[string]any{"title": "Main", "content": "hello"})
	require.NoError(t, err)
	id := v.(int64)
	assert.Positive(t, id)

	v, err = h.call("create", map[string]any{"label": "tools", "width": int64(40), "height": int64(10)})
	require.NoError(t, err)
	tools := v.(int64)

	v, err = h.call("list")
	require.NoError(t, err)
	list := v.([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, id, first["id"])
	assert.Equal(t, "main", first["label"])
	assert.Equal(t, "Main", first["title"])
	second := list[1].(map[string]any)
	assert.Equal(t, "tools", second["title"], "title defaults to the label")
	assert.Equal(t, 40, second["width"])
	assert.Equal(t, true, second["focused"])

	_, err = h.call("set_title", id, "Renamed")
	require.NoError(t, err)
	_, err = h.call("set_content", id, "updated")
	require.NoError(t, err)
	v, err = h.call("get", id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", v.(map[string]any)["title"])

	v, err = h.call("eval", id, "return window_id * 2")
	require.NoError(t, err)
	assert.Equal(t, id*2, v)

	_, err = h.call("eval", id, "error('nope')")
	assert.ErrorContains(t, err, "nope")

	_, err = h.call("close", tools)
	require.NoError(t, err)
	v, err = h.call("get", tools)
	require.NoError(t, err)
	assert.Nil(t, v)
	_, err = h.call("set_title", tools, "gone")
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)

	assert.Equal(t, 1, p.Desktop().WindowCount())
}

func TestWindowChecks(t *testing.T) {
	h, _ := uiHarness(t, windowDescriptor, capability.RawPermissions{
		"ui.window": {Allow: []string{"main"}},
	})

	_, err := h.call("create", map[string]any{"label": "admin"})
	assert.ErrorIs(t, err, capability.ErrDenied)

	_, err = h.call("close", int64(99))
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)

	_, err = h.call("set_content", int64(0), "x")
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)
}

func TestDialogs(t *testing.T) {
	answer := func(c bridge.ShowDialog) (any, error) {
		switch c.Kind {
		case bridge.DialogConfirm:
			return c.Title == "Really?", nil
		case bridge.DialogPrompt:
			return "answer:" + c.Message, nil
		}
		return nil, nil
	}
	h, _ := uiHarness(t, dialogDescriptor, capability.RawPermissions{
		"ui.dialog": {Allow: []string{"confirm", "prompt", "message"}},
	}, native.WithDialogResponder(answer))

	v, err := h.call("prompt", "Name?")
	require.NoError(t, err)
	assert.Equal(t, "answer:Name?", v)

	v, err = h.call("confirm", map[string]any{"title": "Really?", "message": "Delete it"})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = h.call("message", map[string]any{"message": "done"})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = h.call("save", map[string]any{"default": "out.txt"})
	assert.ErrorIs(t, err, capability.ErrDenied)

	_, err = h.call("open", int64(3))
	assert.Error(t, err)
}

func TestMenuPopup(t *testing.T) {
	pick := func(c bridge.ShowContextMenu) (any, error) {
		return c.Items[len(c.Items)-1].ID, nil
	}
	h, p := uiHarness(t, menuDescriptor, capability.RawPermissions{
		"ui.menu": {Allow: []string{"context"}},
	}, native.WithMenuResponder(pick))
	v, _, err := p.Desktop().Execute(bridge.CreateWindow{Label: "main"})
	require.NoError(t, err)
	win := int64(v.(bridge.WindowID))

	v, err = h.call("popup", win, []any{"cut", map[string]any{"id": "copy", "label": "Copy"}})
	require.NoError(t, err)
	assert.Equal(t, "copy", v)

	_, err = h.call("popup", win+100, []any{"cut"})
	assert.ErrorIs(t, err, bridge.ErrInvalidHandle)

	_, err = h.call("popup", win, []any{})
	assert.ErrorContains(t, err, "no items")

	_, err = h.call("popup", win, []any{map[string]any{"label": "no id"}})
	assert.ErrorContains(t, err, "has no id")
}

func TestMenuSlotSupersedes(t *testing.T) {
	// Nothing serves the bridge, so both requests stay pending.
	h := newHarness(t, menuDescriptor(), capability.RawPermissions{
		"ui.menu": {Allow: []string{"context"}},
	})

	first, err := h.start("popup", int64(1), []any{"a"})
	require.NoError(t, err)
	second, err := h.start("popup", int64(1), []any{"b"})
	require.NoError(t, err)
	other, err := h.start("popup", int64(2), []any{"c"})
	require.NoError(t, err)

	done, _, err := first.Poll()
	assert.True(t, done)
	assert.ErrorIs(t, err, bridge.ErrCancelled)

	done, _, _ = second.Poll()
	assert.False(t, done)
	done, _, _ = other.Poll()
	assert.False(t, done, "menus of other windows are unaffected")
}

func TestTraySetStatus(t *testing.T) {
	h, p := uiHarness(t, trayDescriptor, capability.RawPermissions{
		"ui.tray": {Allow: []string{"status"}},
	})

	_, err := h.call("set_status", "syncing")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Desktop().Status() == "syncing" }, 5*time.Second, time.Millisecond)
}

func TestTrayDenied(t *testing.T) {
	h := newHarness(t, trayDescriptor(), nil)
	_, err := h.call("set_status", "x")
	assert.ErrorIs(t, err, capability.ErrDenied)
}

func TestAppInfoAndExit(t *testing.T) {
	h, p := uiHarness(t, appDescriptor, nil)

	v, err := h.call("info")
	require.NoError(t, err)
	info := v.(map[string]any)
	assert.Equal(t, "test", info["name"])
	assert.Equal(t, "1.0.0", info["version"])
	assert.Equal(t, "dev.hearth.test", info["identifier"])
	assert.Equal(t, int64(os.Getpid()), info["pid"])
	assert.Equal(t, "testhost", info["hostname"])
	assert.Contains(t, info, "uptime_ms")
	if rss, ok := info["rss"]; ok {
		assert.Positive(t, rss.(int64))
	}

	_, err = h.call("exit", int64(3))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		quit, code := p.Desktop().QuitRequested()
		return quit && code == 3
	}, 5*time.Second, time.Millisecond)
}
