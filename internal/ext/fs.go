package ext

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func fsDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "fs",
		Tier:     extension.CapabilityBased,
		Required: true,
		Ops:      []string{"read_file", "write_file", "read_dir", "stat", "exists", "mkdir", "remove"},
		Init:     initFS,
	}
}

func initFS(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	return &FSModule{caps: caps, base: ic.App().Dir}, nil
}

// FSModule implements hearth.fs. Paths are resolved to absolute, cleaned
// form before the capability check, so "../" cannot step outside an
// allowed tree. Every operation runs on a worker goroutine.
type FSModule struct {
	caps *capability.Set
	base string
}

// Ops implements extension.State.
func (m *FSModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "read_file", Async: m.readFile},
		{Name: "write_file", Async: m.writeFile},
		{Name: "read_dir", Async: m.readDir},
		{Name: "stat", Async: m.stat},
		{Name: "exists", Async: m.exists},
		{Name: "mkdir", Async: m.mkdir},
		{Name: "remove", Async: m.remove},
	}
}

// path resolves argument i and checks it against class.
func (m *FSModule) path(c *extension.Call, i int, class capability.Class) (string, error) {
	p, err := c.String(i)
	if err != nil {
		return "", err
	}
	resolved := resolvePath(p, m.caps.HomeDir(), m.base)
	if err := requirePath(m.caps, class, resolved); err != nil {
		return "", err
	}
	return filepath.FromSlash(resolved), nil
}

// read_file(path) -> string
func (m *FSModule) readFile(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSRead)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}), nil
}

// write_file(path, data, {append=false, mode=0644})
func (m *FSModule) writeFile(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSWrite)
	if err != nil {
		return nil, err
	}
	data, err := c.String(1)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(2)
	if err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if extension.BoolField(opts, "append", false) {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	mode := fs.FileMode(extension.IntField(opts, "mode", 0o644))

	return extension.Go(func() (any, error) {
		f, err := os.OpenFile(p, flags, mode)
		if err != nil {
			return nil, err
		}
		if _, err := f.WriteString(data); err != nil {
			f.Close()
			return nil, err
		}
		return nil, f.Close()
	}), nil
}

// read_dir(path) -> {{name, dir, size}, ...} sorted by name
func (m *FSModule) readDir(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSRead)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(entries))
		for _, e := range entries {
			item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
			if info, err := e.Info(); err == nil {
				item["size"] = info.Size()
			}
			out = append(out, item)
		}
		return out, nil
	}), nil
}

// stat(path) -> {name, size, dir, mode, modified}
func (m *FSModule) stat(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSRead)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		return statTable(info), nil
	}), nil
}

// exists(path) -> bool
func (m *FSModule) exists(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSRead)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return true, nil
		case os.IsNotExist(err):
			return false, nil
		default:
			return nil, err
		}
	}), nil
}

// mkdir(path, {parents=true})
func (m *FSModule) mkdir(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSWrite)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	parents := extension.BoolField(opts, "parents", true)
	return extension.Go(func() (any, error) {
		if parents {
			return nil, os.MkdirAll(p, 0o755)
		}
		return nil, os.Mkdir(p, 0o755)
	}), nil
}

// remove(path, {recursive=false})
func (m *FSModule) remove(c *extension.Call) (extension.Poller, error) {
	p, err := m.path(c, 0, capability.ClassFSWrite)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	recursive := extension.BoolField(opts, "recursive", false)
	return extension.Go(func() (any, error) {
		if recursive {
			return nil, os.RemoveAll(p)
		}
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("fs.remove: %w", err)
		}
		return nil, nil
	}), nil
}

func statTable(info fs.FileInfo) map[string]any {
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"dir":      info.IsDir(),
		"mode":     int64(info.Mode().Perm()),
		"modified": info.ModTime(),
	}
}
