package ext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/hearth/internal/extension"
)

func jsonDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "json",
		Tier:     extension.ExtensionOnly,
		Required: true,
		Ops:      []string{"encode", "decode", "valid", "get", "set", "delete"},
		Init: func(context.Context, *extension.InitContext) (extension.State, error) {
			return &JSONModule{}, nil
		},
	}
}

// JSONModule implements hearth.json. Paths in get, set and delete use the
// gjson path syntax ("a.b.0.c").
type JSONModule struct{}

// Ops implements extension.State.
func (m *JSONModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "encode", Sync: m.encode},
		{Name: "decode", Sync: m.decode},
		{Name: "valid", Sync: m.valid},
		{Name: "get", Sync: m.get},
		{Name: "set", Sync: m.set},
		{Name: "delete", Sync: m.del},
	}
}

// encode(value, {indent=""}) -> string
func (m *JSONModule) encode(c *extension.Call) (any, error) {
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent := extension.StringField(opts, "indent", ""); indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(c.Arg(0)); err != nil {
		return nil, fmt.Errorf("json.encode: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// decode(string) -> value
func (m *JSONModule) decode(c *extension.Call) (any, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("json.decode: %w", err)
	}
	return v, nil
}

// valid(string) -> bool
func (m *JSONModule) valid(c *extension.Call) (any, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	return gjson.Valid(s), nil
}

// get(string, path) -> value or nil
func (m *JSONModule) get(c *extension.Call) (any, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	path, err := c.String(1)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(s) {
		return nil, fmt.Errorf("json.get: invalid document")
	}
	r := gjson.Get(s, path)
	if !r.Exists() {
		return nil, nil
	}
	return r.Value(), nil
}

// set(string, path, value) -> string
func (m *JSONModule) set(c *extension.Call) (any, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	path, err := c.String(1)
	if err != nil {
		return nil, err
	}
	if s == "" {
		s = "{}"
	}
	out, err := sjson.Set(s, path, c.Arg(2))
	if err != nil {
		return nil, fmt.Errorf("json.set: %w", err)
	}
	return out, nil
}

// delete(string, path) -> string
func (m *JSONModule) del(c *extension.Call) (any, error) {
	s, err := c.String(0)
	if err != nil {
		return nil, err
	}
	path, err := c.String(1)
	if err != nil {
		return nil, err
	}
	out, err := sjson.Delete(s, path)
	if err != nil {
		return nil, fmt.Errorf("json.delete: %w", err)
	}
	return out, nil
}
