package ext

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// MenuSubject is the ui.menu subject of context menus.
const MenuSubject = "context"

func menuDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "menu",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"popup"},
		Init:     initMenu,
	}
}

func initMenu(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	return &MenuModule{caps: caps, bridge: b}, nil
}

// MenuModule implements hearth.menu. Each window has one menu slot; a new
// popup over the same window cancels the previous one.
type MenuModule struct {
	caps   *capability.Set
	bridge *bridge.Bridge
}

// Ops implements extension.State.
func (m *MenuModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "popup", Async: m.popup},
	}
}

// popup(window, items) -> chosen item id, or nil when dismissed. Items are
// strings or {id, label} tables.
func (m *MenuModule) popup(c *extension.Call) (extension.Poller, error) {
	n, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	raw, err := c.List(1)
	if err != nil {
		return nil, err
	}
	items, err := menuItems(raw)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassUIMenu, MenuSubject); err != nil {
		return nil, err
	}
	return m.bridge.Submit(bridge.ShowContextMenu{Window: bridge.WindowID(n), Items: items}), nil
}

func menuItems(raw []any) ([]bridge.MenuItem, error) {
	if len(raw) == 0 {
		return nil, errors.New("menu.popup: no items")
	}
	items := make([]bridge.MenuItem, 0, len(raw))
	for i, v := range raw {
		switch it := v.(type) {
		case string:
			items = append(items, bridge.MenuItem{ID: it, Label: it})
		case map[string]any:
			id := extension.StringField(it, "id", "")
			if id == "" {
				return nil, fmt.Errorf("menu.popup: item %d has no id", i+1)
			}
			items = append(items, bridge.MenuItem{ID: id, Label: extension.StringField(it, "label", id)})
		default:
			return nil, fmt.Errorf("menu.popup: item %d: string or table expected", i+1)
		}
	}
	return items, nil
}
