package ext

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
	"github.com/dshills/hearth/internal/manifest"
	"github.com/dshills/hearth/internal/native"
)

// stubCallback stands in for a captured script function.
type stubCallback int64

func (c stubCallback) CallbackID() int64 { return int64(c) }

// harness initializes a single extension the way the application does.
type harness struct {
	t      *testing.T
	dir    string
	caps   *capability.Set
	keep   *extension.Keepalive
	bridge *bridge.Bridge
	state  extension.State
	ops    map[string]extension.Op
}

func newHarness(t *testing.T, d extension.Descriptor, perms capability.RawPermissions) *harness {
	t.Helper()
	dir := t.TempDir()
	caps, err := capability.Compile(perms, capability.WithHomeDir(dir))
	require.NoError(t, err)

	h := &harness{
		t:      t,
		dir:    dir,
		caps:   caps,
		keep:   &extension.Keepalive{},
		bridge: bridge.New(bridge.WithCapacity(16)),
		ops:    make(map[string]extension.Op),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := extension.AppInfo{Name: "test", Version: "1.0.0", Identifier: "dev.hearth.test", Dir: dir}
	ic := extension.NewInitContext(logger, app, manifest.Limits{MaxProcesses: 2})
	builder := extension.BuilderFunc(func(_ context.Context, ic *extension.InitContext, tier extension.Tier) error {
		switch tier {
		case extension.CapabilityBased:
			ic.ProvideCapabilities(h.caps, h.keep)
		case extension.ComplexContext:
			ic.ProvideBridge(h.bridge, extension.ProcessInfo{
				PID:       os.Getpid(),
				Hostname:  "testhost",
				OS:        runtime.GOOS,
				StartedAt: time.Now(),
			})
		}
		return nil
	})

	reg := extension.NewRegistry(extension.WithLogger(logger))
	require.NoError(t, reg.Register(d))
	table, err := reg.InitAll(context.Background(), ic, builder)
	require.NoError(t, err)
	t.Cleanup(func() {
		table.Close()
		h.bridge.Close()
	})

	state, ok := table.Get(d.Name)
	require.True(t, ok, "extension %s unavailable", d.Name)
	h.state = state
	for _, op := range state.Ops() {
		h.ops[op.Name] = op
	}
	return h
}

func (h *harness) op(name string) extension.Op {
	h.t.Helper()
	op, ok := h.ops[name]
	require.True(h.t, ok, "no op %q", name)
	return op
}

// start begins an async op without waiting for it.
func (h *harness) start(name string, args ...any) (extension.Poller, error) {
	h.t.Helper()
	op := h.op(name)
	require.True(h.t, op.IsAsync(), "%s is not async", name)
	return op.Async(&extension.Call{Ctx: context.Background(), Op: name, Args: args})
}

// call runs an op to completion.
func (h *harness) call(name string, args ...any) (any, error) {
	h.t.Helper()
	op := h.op(name)
	c := &extension.Call{Ctx: context.Background(), Op: name, Args: args}
	if !op.IsAsync() {
		return op.Sync(c)
	}
	p, err := op.Async(c)
	if err != nil {
		return nil, err
	}
	return await(h.t, p)
}

// serve executes bridge commands on p until the bridge closes.
func (h *harness) serve(p native.Platform) {
	go func() {
		for {
			select {
			case env := <-h.bridge.Commands():
				p.Execute(env.Command, func(v any, err error) {
					if env.ExpectsResponse() {
						h.bridge.Respond(env.ID, v, err)
					}
				})
			case <-h.bridge.Done():
				return
			}
		}
	}()
}

func await(t *testing.T, p extension.Poller) (any, error) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		done, v, err := p.Poll()
		if done {
			return v, err
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for result")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRegisterDefault(t *testing.T) {
	r := extension.NewRegistry()
	require.NoError(t, Register(r))
	assert.Len(t, r.Descriptors(), len(Default()))

	err := Register(r)
	assert.ErrorIs(t, err, extension.ErrDuplicate)

	seen := make(map[string]bool)
	for _, d := range Default() {
		assert.False(t, seen[d.Name], "duplicate %s", d.Name)
		seen[d.Name] = true
		assert.NotEmpty(t, d.Ops, d.Name)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		path, home, base string
		want             string
	}{
		{"~", "/home/u", "/app", "/home/u"},
		{"~/notes/a.txt", "/home/u", "/app", "/home/u/notes/a.txt"},
		{"data/../x.txt", "/home/u", "/app", "/app/x.txt"},
		{"../../etc/passwd", "", "/app/sub", "/etc/passwd"},
		{"/var/./log//app.log", "/home/u", "/app", "/var/log/app.log"},
		{"~user/x", "/home/u", "/app", "/app/~user/x"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, resolvePath(tt.path, tt.home, tt.base))
		})
	}
}

func TestRealPath(t *testing.T) {
	dir := t.TempDir()
	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "target"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "target"), filepath.Join(dir, "link")))
	require.NoError(t, os.Symlink("missing/file", filepath.Join(dir, "dangling")))
	require.NoError(t, os.Symlink("loop", filepath.Join(dir, "loop")))

	slash := func(parts ...string) string {
		return filepath.ToSlash(filepath.Join(append([]string{dir}, parts...)...))
	}
	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain", slash("target"), slash("target")},
		{"missing tail kept", slash("target", "a", "b"), slash("target", "a", "b")},
		{"linked directory", slash("link", "x.txt"), slash("target", "x.txt")},
		{"dangling link", slash("dangling"), slash("missing", "file")},
		{"link loop", slash("loop"), slash("loop")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, realPath(tt.path, dir))
		})
	}

	if realDir != dir {
		assert.Equal(t, filepath.ToSlash(filepath.Join(realDir, "target")), realPath(slash("target"), ""),
			"without home the real prefix is returned")
	}
}

func TestThen(t *testing.T) {
	p := then(extension.Ready(int64(2), nil), func(v any) (any, error) {
		return v.(int64) * 21, nil
	})
	done, v, err := p.Poll()
	require.True(t, done)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	pending := then(extension.PollFunc(func() (bool, any, error) { return false, nil, nil }), func(any) (any, error) {
		t.Fatal("post-processing ran before completion")
		return nil, nil
	})
	done, _, _ = pending.Poll()
	assert.False(t, done)
}

func TestConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	m := &ConsoleModule{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	ops := make(map[string]extension.Op)
	for _, op := range m.Ops() {
		ops[op.Name] = op
	}

	_, err := ops["warn"].Sync(&extension.Call{Ctx: context.Background(), Op: "warn", Args: []any{"disk", int64(3), nil, true}})
	require.NoError(t, err)
	_, err = ops["debug"].Sync(&extension.Call{Ctx: context.Background(), Op: "debug", Args: []any{stubCallback(1)}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `level=WARN msg="disk 3 nil true"`)
	assert.Contains(t, out, "level=DEBUG msg=function")
}
