package ext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// WaitDelay bounds how long a cancelled child's output pipes may stay open
// after it is killed.
const WaitDelay = 2 * time.Second

func processDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "process",
		Tier:     extension.CapabilityBased,
		Required: true,
		Ops:      []string{"spawn", "env"},
		Init:     initProcess,
	}
}

func initProcess(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	n := ic.Limits().MaxProcesses
	if n <= 0 {
		n = 1
	}
	return &ProcessModule{
		caps: caps,
		base: ic.App().Dir,
		sem:  semaphore.NewWeighted(int64(n)),
	}, nil
}

// ProcessModule implements hearth.process. At most MaxProcesses children run
// at once; further spawns wait for a slot on their worker goroutine.
type ProcessModule struct {
	caps *capability.Set
	base string
	sem  *semaphore.Weighted
}

// Ops implements extension.State.
func (m *ProcessModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "spawn", Async: m.spawn},
		{Name: "env", Sync: m.env},
	}
}

// executable resolves name the way exec.Command would and returns the path
// the capability check sees.
func (m *ProcessModule) executable(name string) string {
	if !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator) {
		if p, err := exec.LookPath(name); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return filepath.ToSlash(abs)
			}
		}
		return name
	}
	return resolvePath(name, m.caps.HomeDir(), m.base)
}

// spawn(cmd, {args}, {cwd, env={}, stdin="", timeout_ms=0})
// -> {code, stdout, stderr}
func (m *ProcessModule) spawn(c *extension.Call) (extension.Poller, error) {
	name, err := c.String(0)
	if err != nil {
		return nil, err
	}
	rawArgs, err := c.List(1)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(2)
	if err != nil {
		return nil, err
	}

	exe := m.executable(name)
	if err := m.caps.Require(capability.ClassProcessSpawn, exe); err != nil {
		return nil, err
	}

	args := make([]string, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = fmt.Sprint(a)
	}
	cwd := extension.StringField(opts, "cwd", "")
	if cwd != "" {
		cwd = resolvePath(cwd, m.caps.HomeDir(), m.base)
		if err := requirePath(m.caps, capability.ClassFSRead, cwd); err != nil {
			return nil, err
		}
		cwd = filepath.FromSlash(cwd)
	}
	env, err := m.envList(opts["env"])
	if err != nil {
		return nil, err
	}
	stdin := extension.StringField(opts, "stdin", "")
	timeout := time.Duration(extension.IntField(opts, "timeout_ms", 0)) * time.Millisecond
	ctx := callContext(c)

	return extension.Go(func() (any, error) {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.sem.Release(1)

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, filepath.FromSlash(exe), args...)
		cmd.Dir = cwd
		cmd.WaitDelay = WaitDelay
		if len(env) > 0 {
			cmd.Env = append(os.Environ(), env...)
		}
		if stdin != "" {
			cmd.Stdin = strings.NewReader(stdin)
		}
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("process.spawn %s: %w", name, err)
		}
		return map[string]any{
			"code":   int64(cmd.ProcessState.ExitCode()),
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		}, nil
	}), nil
}

// env(name) -> string, or nil when unset
func (m *ProcessModule) env(c *extension.Call) (any, error) {
	name, err := c.String(0)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassProcessEnv, name); err != nil {
		return nil, err
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

// envList turns an env table into KEY=VALUE pairs in key order. Every key
// must be allowed by process.env.
func (m *ProcessModule) envList(v any) ([]string, error) {
	vars, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(vars))
	for k, val := range vars {
		if k == "" || strings.ContainsRune(k, '=') {
			return nil, fmt.Errorf("process.spawn: invalid env name %q", k)
		}
		if err := m.caps.Require(capability.ClassProcessEnv, k); err != nil {
			return nil, err
		}
		out = append(out, k+"="+fmt.Sprint(val))
	}
	sort.Strings(out)
	return out, nil
}
