package ext

import (
	"context"
	"fmt"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func eventsDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "events",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"on", "off", "next"},
		Init:     initEvents,
	}
}

func initEvents(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	keep, err := ic.Keepalive()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	return &EventsModule{caps: caps, keep: keep, bridge: b, listeners: newListenerSet()}, nil
}

// EventsModule implements hearth.events. Sources are dot separated
// patterns: "window.*" matches every window, "**" every source. IPC
// messages are only seen on channels the ipc class allows.
type EventsModule struct {
	caps      *capability.Set
	keep      *extension.Keepalive
	bridge    *bridge.Bridge
	listeners *listenerSet
}

// Ops implements extension.State.
func (m *EventsModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "on", Sync: m.on},
		{Name: "off", Sync: m.off},
		{Name: "next", Async: m.next},
	}
}

// Close removes every listener.
func (m *EventsModule) Close() error {
	m.listeners.closeAll()
	return nil
}

// on(source, fn(event), {type}) -> listener id
func (m *EventsModule) on(c *extension.Call) (any, error) {
	pattern, err := c.String(0)
	if err != nil {
		return nil, err
	}
	fn, err := c.Callback(1)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(2)
	if err != nil {
		return nil, err
	}
	return m.listeners.add(m.bridge, m.keep, pattern, m.filter(opts), fn), nil
}

// off(id)
func (m *EventsModule) off(c *extension.Call) (any, error) {
	id, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	if !m.listeners.remove(id) {
		return nil, fmt.Errorf("events.off: listener %d: %w", id, bridge.ErrInvalidHandle)
	}
	return nil, nil
}

// next(source, {type}) -> the next matching event
func (m *EventsModule) next(c *extension.Call) (extension.Poller, error) {
	pattern, err := c.String(0)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	sub := m.bridge.Subscribe(pattern, m.filter(opts))
	return extension.PollFunc(func() (bool, any, error) {
		if ev, ok := sub.TryNext(); ok {
			sub.Close()
			return true, ev, nil
		}
		if sub.Closed() {
			return true, nil, bridge.ErrClosed
		}
		return false, nil, nil
	}), nil
}

// filter accepts events of the requested type, if any, and drops IPC
// messages whose channel ipc.on would refuse.
func (m *EventsModule) filter(opts map[string]any) func(bridge.Event) bool {
	want := extension.StringField(opts, "type", "")
	return func(ev bridge.Event) bool {
		if want != "" && ev.Type() != want {
			return false
		}
		if msg, ok := ev.(bridge.IPCMessage); ok {
			return m.caps.Check(capability.ClassIPC, msg.Channel) == capability.Allow
		}
		return true
	}
}
