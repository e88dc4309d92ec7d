package ext

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// DefaultWindowLabel labels windows created without one.
const DefaultWindowLabel = "main"

func windowDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "window",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"create", "close", "set_title", "set_content", "eval", "list", "get"},
		Init:     initWindow,
	}
}

func initWindow(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	return &WindowModule{caps: caps, bridge: b, labels: make(map[bridge.WindowID]string)}, nil
}

// WindowModule implements hearth.window. The ui.window subject of a window
// is the label it was created with; operations on an id this module never
// created fail with ErrInvalidHandle.
type WindowModule struct {
	caps   *capability.Set
	bridge *bridge.Bridge

	mu     sync.Mutex
	labels map[bridge.WindowID]string
}

// Ops implements extension.State.
func (m *WindowModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "create", Async: m.create},
		{Name: "close", Async: m.close},
		{Name: "set_title", Async: m.setTitle},
		{Name: "set_content", Async: m.setContent},
		{Name: "eval", Async: m.eval},
		{Name: "list", Async: m.list},
		{Name: "get", Async: m.get},
	}
}

// window resolves argument i to a window this module created and checks
// its label.
func (m *WindowModule) window(c *extension.Call, i int) (bridge.WindowID, error) {
	n, err := c.Int(i)
	if err != nil {
		return 0, err
	}
	id := bridge.WindowID(n)
	m.mu.Lock()
	label, ok := m.labels[id]
	m.mu.Unlock()
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%s: window %d: %w", c.Op, n, bridge.ErrInvalidHandle)
	}
	if err := m.caps.Require(capability.ClassUIWindow, label); err != nil {
		return 0, err
	}
	return id, nil
}

// create({label="main", title, width, height, content}) -> window id
func (m *WindowModule) create(c *extension.Call) (extension.Poller, error) {
	opts, err := c.OptTable(0)
	if err != nil {
		return nil, err
	}
	cmd := bridge.CreateWindow{
		Label:   extension.StringField(opts, "label", DefaultWindowLabel),
		Title:   extension.StringField(opts, "title", ""),
		Width:   int(extension.IntField(opts, "width", 0)),
		Height:  int(extension.IntField(opts, "height", 0)),
		Content: extension.StringField(opts, "content", ""),
	}
	if err := m.caps.Require(capability.ClassUIWindow, cmd.Label); err != nil {
		return nil, err
	}
	return then(m.bridge.Submit(cmd), func(v any) (any, error) {
		id, ok := v.(bridge.WindowID)
		if !ok {
			return nil, fmt.Errorf("window.create: unexpected response %T", v)
		}
		m.mu.Lock()
		m.labels[id] = cmd.Label
		m.mu.Unlock()
		return int64(id), nil
	}), nil
}

// close(id)
func (m *WindowModule) close(c *extension.Call) (extension.Poller, error) {
	id, err := m.window(c, 0)
	if err != nil {
		return nil, err
	}
	return then(m.bridge.Submit(bridge.CloseWindow{Window: id}), func(any) (any, error) {
		m.mu.Lock()
		delete(m.labels, id)
		m.mu.Unlock()
		return nil, nil
	}), nil
}

// set_title(id, title)
func (m *WindowModule) setTitle(c *extension.Call) (extension.Poller, error) {
	id, err := m.window(c, 0)
	if err != nil {
		return nil, err
	}
	title, err := c.String(1)
	if err != nil {
		return nil, err
	}
	return m.bridge.Submit(bridge.SetWindowTitle{Window: id, Title: title}), nil
}

// set_content(id, text)
func (m *WindowModule) setContent(c *extension.Call) (extension.Poller, error) {
	id, err := m.window(c, 0)
	if err != nil {
		return nil, err
	}
	content, err := c.String(1)
	if err != nil {
		return nil, err
	}
	return m.bridge.Submit(bridge.SetWindowContent{Window: id, Content: content}), nil
}

// eval(id, code) -> value of the code in the window's render surface
func (m *WindowModule) eval(c *extension.Call) (extension.Poller, error) {
	id, err := m.window(c, 0)
	if err != nil {
		return nil, err
	}
	code, err := c.String(1)
	if err != nil {
		return nil, err
	}
	return m.bridge.Submit(bridge.EvalInWindow{Window: id, Code: code}), nil
}

// list() -> {{id, label, title, width, height, focused}, ...}
func (m *WindowModule) list(*extension.Call) (extension.Poller, error) {
	return then(m.bridge.Submit(bridge.ListWindows{}), func(v any) (any, error) {
		infos, _ := v.([]bridge.WindowInfo)
		out := make([]any, len(infos))
		for i, w := range infos {
			out[i] = w.Fields()
		}
		return out, nil
	}), nil
}

// get(id) -> {id, label, title, width, height, focused}, or nil when the
// window no longer exists
func (m *WindowModule) get(c *extension.Call) (extension.Poller, error) {
	n, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	id := bridge.WindowID(n)
	return then(m.bridge.Submit(bridge.ListWindows{}), func(v any) (any, error) {
		infos, _ := v.([]bridge.WindowInfo)
		for _, w := range infos {
			if w.ID == id {
				return w.Fields(), nil
			}
		}
		return nil, nil
	}), nil
}
