package ext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/extension"
)

func TestClipboardReadWrite(t *testing.T) {
	var text string
	m := &ClipboardModule{
		read:  func() (string, error) { return text, nil },
		write: func(s string) error { text = s; return nil },
	}
	ops := make(map[string]extension.Op)
	for _, op := range m.Ops() {
		ops[op.Name] = op
	}

	p, err := ops["write"].Async(&extension.Call{Ctx: context.Background(), Op: "write", Args: []any{"copied"}})
	require.NoError(t, err)
	_, err = await(t, p)
	require.NoError(t, err)

	p, err = ops["read"].Async(&extension.Call{Ctx: context.Background(), Op: "read"})
	require.NoError(t, err)
	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, "copied", v)
}

func TestClipboardErrors(t *testing.T) {
	broken := errors.New("xclip missing")
	m := &ClipboardModule{
		read:  func() (string, error) { return "", broken },
		write: func(string) error { return broken },
	}
	ops := make(map[string]extension.Op)
	for _, op := range m.Ops() {
		ops[op.Name] = op
	}

	p, err := ops["read"].Async(&extension.Call{Op: "read"})
	require.NoError(t, err)
	_, err = await(t, p)
	assert.ErrorIs(t, err, broken)

	_, err = ops["write"].Async(&extension.Call{Op: "write", Args: []any{int64(1)}})
	assert.Error(t, err)
}
