package ext

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/extension"
)

func appDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "app",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"info", "exit"},
		Init:     initApp,
	}
}

func initApp(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	proc, err := ic.Process()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	m := &AppModule{app: ic.App(), proc: proc, bridge: b, now: time.Now}
	if p, err := process.NewProcess(int32(proc.PID)); err == nil {
		m.self = p
	}
	return m, nil
}

// AppModule implements hearth.app.
type AppModule struct {
	app    extension.AppInfo
	proc   extension.ProcessInfo
	bridge *bridge.Bridge
	self   *process.Process
	now    func() time.Time
}

// Ops implements extension.State.
func (m *AppModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "info", Sync: m.info},
		{Name: "exit", Async: m.exit},
	}
}

// info() -> {name, version, identifier, dir, pid, executable, hostname, os,
// platform, arch, uptime_ms, rss}
func (m *AppModule) info(*extension.Call) (any, error) {
	out := map[string]any{
		"name":       m.app.Name,
		"version":    m.app.Version,
		"identifier": m.app.Identifier,
		"dir":        m.app.Dir,
		"pid":        int64(m.proc.PID),
		"executable": m.proc.Executable,
		"hostname":   m.proc.Hostname,
		"os":         m.proc.OS,
		"platform":   m.proc.Platform,
		"arch":       runtime.GOARCH,
	}
	if !m.proc.StartedAt.IsZero() {
		out["uptime_ms"] = m.now().Sub(m.proc.StartedAt).Milliseconds()
	}
	if m.self != nil {
		if mem, err := m.self.MemoryInfo(); err == nil {
			out["rss"] = int64(mem.RSS)
		}
	}
	return out, nil
}

// exit(code=0)
func (m *AppModule) exit(c *extension.Call) (extension.Poller, error) {
	code, err := c.OptInt(0, 0)
	if err != nil {
		return nil, err
	}
	return m.bridge.SubmitOneWay(bridge.Quit{Code: int(code)}), nil
}
