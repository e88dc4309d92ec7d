package ext

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"

	"github.com/dshills/hearth/internal/extension"
)

// ErrNoClipboard is returned by the clipboard init when the system has no
// clipboard utility.
var ErrNoClipboard = errors.New("no system clipboard")

func clipboardDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name: "clipboard",
		Tier: extension.SimpleState,
		Ops:  []string{"read", "write"},
		Init: initClipboard,
	}
}

func initClipboard(context.Context, *extension.InitContext) (extension.State, error) {
	if clipboard.Unsupported {
		return nil, ErrNoClipboard
	}
	return &ClipboardModule{read: clipboard.ReadAll, write: clipboard.WriteAll}, nil
}

// ClipboardModule implements hearth.clipboard. Clipboard utilities are
// external processes, so both operations run on a worker goroutine.
type ClipboardModule struct {
	read  func() (string, error)
	write func(string) error
}

// Ops implements extension.State.
func (m *ClipboardModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "read", Async: m.readText},
		{Name: "write", Async: m.writeText},
	}
}

// read() -> string
func (m *ClipboardModule) readText(*extension.Call) (extension.Poller, error) {
	return extension.Go(func() (any, error) {
		s, err := m.read()
		if err != nil {
			return nil, fmt.Errorf("clipboard.read: %w", err)
		}
		return s, nil
	}), nil
}

// write(text)
func (m *ClipboardModule) writeText(c *extension.Call) (extension.Poller, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		if err := m.write(s); err != nil {
			return nil, fmt.Errorf("clipboard.write: %w", err)
		}
		return nil, nil
	}), nil
}
