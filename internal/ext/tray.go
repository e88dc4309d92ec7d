package ext

import (
	"context"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// TraySubject is the ui.tray subject of the status area.
const TraySubject = "status"

func trayDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name: "tray",
		Tier: extension.ComplexContext,
		Ops:  []string{"set_status"},
		Init: func(_ context.Context, ic *extension.InitContext) (extension.State, error) {
			caps, err := ic.Capabilities()
			if err != nil {
				return nil, err
			}
			b, err := ic.Bridge()
			if err != nil {
				return nil, err
			}
			return &TrayModule{caps: caps, bridge: b}, nil
		},
	}
}

// TrayModule implements hearth.tray.
type TrayModule struct {
	caps   *capability.Set
	bridge *bridge.Bridge
}

// Ops implements extension.State.
func (m *TrayModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "set_status", Async: m.setStatus},
	}
}

// set_status(text)
func (m *TrayModule) setStatus(c *extension.Call) (extension.Poller, error) {
	text, err := c.String(0)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassUITray, TraySubject); err != nil {
		return nil, err
	}
	return m.bridge.SubmitOneWay(bridge.SetStatus{Text: text}), nil
}
