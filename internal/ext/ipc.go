package ext

import (
	"context"
	"fmt"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func ipcDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "ipc",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"post", "on", "off"},
		Init:     initIPC,
	}
}

func initIPC(_ context.Context, ic *extension.InitContext) (extension.State, error) {
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
	return &IPCModule{caps: caps, keep: keep, bridge: b, listeners: newListenerSet()}, nil
}

// IPCModule implements hearth.ipc: messages between scripts and window
// render surfaces, keyed by channel name.
type IPCModule struct {
	caps      *capability.Set
	keep      *extension.Keepalive
	bridge    *bridge.Bridge
	listeners *listenerSet
}

// Ops implements extension.State.
func (m *IPCModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "post", Async: m.post},
		{Name: "on", Sync: m.on},
		{Name: "off", Sync: m.off},
	}
}

// Close removes every listener.
func (m *IPCModule) Close() error {
	m.listeners.closeAll()
	return nil
}

// post(window, channel, payload) -> true when the surface handled it
func (m *IPCModule) post(c *extension.Call) (extension.Poller, error) {
	n, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	channel, err := c.String(1)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassIPC, channel); err != nil {
		return nil, err
	}
	cmd := bridge.PostToWindow{Window: bridge.WindowID(n), Channel: channel, Payload: c.Arg(2)}
	return m.bridge.Submit(cmd), nil
}

// on(channel, fn(event)) -> listener id. The handler runs for every
// message any window posts on channel.
func (m *IPCModule) on(c *extension.Call) (any, error) {
	channel, err := c.String(0)
	if err != nil {
		return nil, err
	}
	fn, err := c.Callback(1)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassIPC, channel); err != nil {
		return nil, err
	}
	filter := func(ev bridge.Event) bool {
		msg, ok := ev.(bridge.IPCMessage)
		return ok && msg.Channel == channel
	}
	return m.listeners.add(m.bridge, m.keep, "window.*", filter, fn), nil
}

// off(id)
func (m *IPCModule) off(c *extension.Call) (any, error) {
	id, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	if !m.listeners.remove(id) {
		return nil, fmt.Errorf("ipc.off: listener %d: %w", id, bridge.ErrInvalidHandle)
	}
	return nil, nil
}
