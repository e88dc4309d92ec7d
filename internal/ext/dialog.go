package ext

import (
	"context"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func dialogDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "dialog",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"message", "confirm", "prompt", "open", "save"},
		Init:     initDialog,
	}
}

func initDialog(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	return &DialogModule{caps: caps, bridge: b}, nil
}

// DialogModule implements hearth.dialog. All dialogs share one slot, so
// opening a dialog cancels the one still waiting for an answer.
type DialogModule struct {
	caps   *capability.Set
	bridge *bridge.Bridge
}

// Ops implements extension.State.
func (m *DialogModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "message", Async: m.show(bridge.DialogMessage)},
		{Name: "confirm", Async: m.show(bridge.DialogConfirm)},
		{Name: "prompt", Async: m.show(bridge.DialogPrompt)},
		{Name: "open", Async: m.show(bridge.DialogOpen)},
		{Name: "save", Async: m.show(bridge.DialogSave)},
	}
}

// show returns the op for one dialog kind. Each accepts either a message
// string or {title, message, default}.
func (m *DialogModule) show(kind bridge.DialogKind) extension.AsyncFunc {
	return func(c *extension.Call) (extension.Poller, error) {
		cmd := bridge.ShowDialog{Kind: kind}
		if s, ok := c.Arg(0).(string); ok {
			cmd.Message = s
		} else {
			opts, err := c.OptTable(0)
			if err != nil {
				return nil, err
			}
			cmd.Title = extension.StringField(opts, "title", "")
			cmd.Message = extension.StringField(opts, "message", "")
			cmd.Default = extension.StringField(opts, "default", "")
		}
		if err := m.caps.Require(capability.ClassUIDialog, string(kind)); err != nil {
			return nil, err
		}
		return m.bridge.Submit(cmd), nil
	}
}
