package ext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func wasmDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name: "wasm",
		Tier: extension.CapabilityBased,
		Ops:  []string{"load", "call", "exports", "close"},
		Init: initWasm,
	}
}

func initWasm(ctx context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if pages := ic.Limits().WasmMemoryPages; pages > 0 {
		cfg = cfg.WithMemoryLimitPages(pages)
	}
	rt := wazero.NewRuntimeWithConfig(context.Background(), cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("instantiating WASI: %w", err)
	}
	return &WasmModule{
		caps:    caps,
		base:    ic.App().Dir,
		runtime: rt,
		modules: make(map[int64]api.Module),
		logger:  extLogger(ic, "wasm"),
	}, nil
}

// WasmModule implements hearth.wasm on a wazero runtime with WASI. Modules
// see only the directories preopened at load time.
type WasmModule struct {
	caps    *capability.Set
	base    string
	runtime wazero.Runtime
	logger  *slog.Logger

	mu      sync.Mutex
	modules map[int64]api.Module
}

// Ops implements extension.State.
func (m *WasmModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "load", Async: m.load},
		{Name: "call", Async: m.call},
		{Name: "exports", Sync: m.exports},
		{Name: "close", Sync: m.closeModule},
	}
}

// Close closes every module and the runtime.
func (m *WasmModule) Close() error {
	m.mu.Lock()
	m.modules = make(map[int64]api.Module)
	m.mu.Unlock()
	return m.runtime.Close(context.Background())
}

func (m *WasmModule) module(c *extension.Call) (api.Module, error) {
	id, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.modules[id]
	if !ok {
		return nil, fmt.Errorf("%s: module %d: %w", c.Op, id, bridge.ErrInvalidHandle)
	}
	return mod, nil
}

// load(path, {preopen={[host]=guest}}) -> module id
func (m *WasmModule) load(c *extension.Call) (extension.Poller, error) {
	p, err := c.String(0)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	home := m.caps.HomeDir()
	path := resolvePath(p, home, m.base)
	if err := requirePath(m.caps, capability.ClassWasmLoad, path); err != nil {
		return nil, err
	}

	fsCfg := wazero.NewFSConfig()
	if pre, ok := opts["preopen"].(map[string]any); ok {
		hosts := make([]string, 0, len(pre))
		for h := range pre {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			guest, ok := pre[h].(string)
			if !ok {
				return nil, fmt.Errorf("wasm.load: preopen %q: guest path must be a string", h)
			}
			dir := resolvePath(h, home, m.base)
			if err := requirePath(m.caps, capability.ClassWasmPreopen, dir); err != nil {
				return nil, err
			}
			fsCfg = fsCfg.WithDirMount(dir, guest)
		}
	}
	ctx := callContext(c)

	return extension.Go(func() (any, error) {
		bin, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		compiled, err := m.runtime.CompileModule(ctx, bin)
		if err != nil {
			return nil, fmt.Errorf("wasm.load: %w", err)
		}
		cfg := wazero.NewModuleConfig().
			WithName("").
			WithFSConfig(fsCfg).
			WithStartFunctions("_initialize")
		mod, err := m.runtime.InstantiateModule(ctx, compiled, cfg)
		if err != nil {
			return nil, fmt.Errorf("wasm.load: %w", err)
		}
		id := nextHandle()
		m.mu.Lock()
		m.modules[id] = mod
		m.mu.Unlock()
		m.logger.Debug("module loaded", "id", id, "path", path)
		return id, nil
	}), nil
}

// call(id, name, ...numbers) -> first result, or nil
func (m *WasmModule) call(c *extension.Call) (extension.Poller, error) {
	mod, err := m.module(c)
	if err != nil {
		return nil, err
	}
	name, err := c.String(1)
	if err != nil {
		return nil, err
	}
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("wasm.call: no exported function %q", name)
	}
	def := fn.Definition()
	types := def.ParamTypes()
	if c.Len()-2 != len(types) {
		return nil, fmt.Errorf("wasm.call %s: want %d arguments, got %d", name, len(types), c.Len()-2)
	}
	params := make([]uint64, len(types))
	for i, t := range types {
		v, err := encodeValue(c.Arg(i+2), t)
		if err != nil {
			return nil, fmt.Errorf("wasm.call %s: argument %d: %w", name, i+1, err)
		}
		params[i] = v
	}
	results := def.ResultTypes()
	ctx := callContext(c)

	return extension.Go(func() (any, error) {
		out, err := fn.Call(ctx, params...)
		if err != nil {
			return nil, fmt.Errorf("wasm.call %s: %w", name, err)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return decodeValue(out[0], results[0]), nil
	}), nil
}

// exports(id) -> {name, ...} of exported functions, sorted
func (m *WasmModule) exports(c *extension.Call) (any, error) {
	mod, err := m.module(c)
	if err != nil {
		return nil, err
	}
	defs := mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// close(id)
func (m *WasmModule) closeModule(c *extension.Call) (any, error) {
	mod, err := m.module(c)
	if err != nil {
		return nil, err
	}
	id, _ := c.Int(0)
	m.mu.Lock()
	delete(m.modules, id)
	m.mu.Unlock()
	return nil, mod.Close(callContext(c))
}

func encodeValue(v any, t api.ValueType) (uint64, error) {
	var f float64
	var i int64
	switch n := v.(type) {
	case int64:
		i, f = n, float64(n)
	case float64:
		i, f = int64(n), n
	case bool:
		if n {
			i, f = 1, 1
		}
	default:
		return 0, errors.New("number expected")
	}
	switch t {
	case api.ValueTypeI32:
		if i < math.MinInt32 || i > math.MaxUint32 {
			return 0, errors.New("out of i32 range")
		}
		return api.EncodeI32(int32(i)), nil
	case api.ValueTypeI64:
		return api.EncodeI64(i), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
	}
}

func decodeValue(v uint64, t api.ValueType) any {
	switch t {
	case api.ValueTypeI32:
		return int64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return int64(v)
	}
}
