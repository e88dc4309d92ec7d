package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/ext"
	"github.com/dshills/hearth/internal/extension"
	"github.com/dshills/hearth/internal/manifest"
	"github.com/dshills/hearth/internal/native"
	"github.com/dshills/hearth/internal/script"
)

// hostInfoTimeout bounds the host metadata lookup done before tier 3.
const hostInfoTimeout = 2 * time.Second

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"manifest", b.initManifest},
		{"capabilities", b.initCapabilities},
		{"bridge", b.initBridge},
		{"platform", b.initPlatform},
		{"extensions", b.initExtensions},
		{"script", b.initScript},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			b.cleanup()
			return &InitError{Component: s.name, Err: err}
		}
		b.initOrder = append(b.initOrder, s.name)
	}
	return nil
}

// initManifest loads the manifest, or synthesizes one for a bare entry
// script.
func (b *bootstrapper) initManifest() error {
	m := b.opts.Manifest
	switch {
	case m != nil:
	case b.opts.ManifestPath != "":
		var err error
		if m, err = manifest.Load(b.opts.ManifestPath); err != nil {
			return err
		}
	case b.opts.Entry != "":
		m = bareManifest(b.opts.Entry)
	default:
		return ErrNoManifest
	}

	if b.opts.Entry != "" {
		entry, err := filepath.Abs(b.opts.Entry)
		if err != nil {
			return err
		}
		m.App.Entry = entry
	}
	if abs, err := filepath.Abs(m.Dir); err == nil {
		m.Dir = abs
	}
	b.app.manifest = m
	b.app.logger = b.app.logger.With("app", m.App.Name)
	return nil
}

// bareManifest describes an entry script run without a manifest. It grants
// no permissions.
func bareManifest(entry string) *manifest.Manifest {
	name := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
	return &manifest.Manifest{
		App: manifest.App{Name: name, Entry: entry},
		Limits: manifest.Limits{
			MaxProcesses:    manifest.DefaultMaxProcesses,
			BridgeCapacity:  manifest.DefaultBridgeCapacity,
			WasmMemoryPages: manifest.DefaultWasmPages,
		},
		Permissions: capability.RawPermissions{},
		Dir:         filepath.Dir(entry),
	}
}

// initCapabilities compiles the declared permissions.
func (b *bootstrapper) initCapabilities() error {
	var opts []capability.Option
	if b.opts.HomeDir != "" {
		opts = append(opts, capability.WithHomeDir(b.opts.HomeDir))
	}
	caps, err := capability.Compile(b.app.manifest.Permissions, opts...)
	if err != nil {
		return err
	}
	b.app.caps = caps
	for _, c := range caps.Declared() {
		b.app.logger.Debug("capability declared", "class", string(c), "risk", c.Info().RiskLevel.String())
	}
	return nil
}

// initBridge creates the command/event bridge.
func (b *bootstrapper) initBridge() error {
	b.app.bridge = bridge.New(
		bridge.WithCapacity(b.app.manifest.Limits.BridgeCapacity),
		bridge.WithLogger(b.app.logger.With("component", "bridge")),
	)
	return nil
}

// initPlatform picks the native platform and, unless close requests are
// handled by the script, subscribes to them.
func (b *bootstrapper) initPlatform() error {
	b.app.platform = b.opts.Platform
	if b.app.platform == nil {
		b.app.platform = native.NewHeadless(
			native.WithHeadlessLogger(b.app.logger.With("component", "native")),
		)
	}
	if !b.opts.ManualClose {
		b.app.closeRequests = b.app.bridge.Subscribe("window."+bridge.WildcardSingle, func(ev bridge.Event) bool {
			_, ok := ev.(bridge.WindowCloseRequested)
			return ok
		})
	}
	return nil
}

// initExtensions initializes every extension tier by tier.
func (b *bootstrapper) initExtensions() error {
	m := b.app.manifest
	reg := extension.NewRegistry(
		extension.WithLogger(b.app.logger.With("component", "extension")),
		extension.WithParallelTiers(b.opts.ParallelInit || m.Extensions.ParallelInit),
		extension.WithDisabled(m.Extensions.Disabled...),
	)
	if b.opts.Extensions != nil {
		for _, d := range b.opts.Extensions {
			if err := reg.Register(d); err != nil {
				return err
			}
		}
	} else if err := ext.Register(reg); err != nil {
		return err
	}

	ic := extension.NewInitContext(b.app.logger, extension.AppInfo{
		Name:       m.App.Name,
		Version:    m.App.Version,
		Identifier: m.App.Identifier,
		Dir:        m.Dir,
	}, m.Limits)

	table, err := reg.InitAll(context.Background(), ic, extension.BuilderFunc(b.prepareTier))
	if err != nil {
		return err
	}
	b.app.table = table
	return nil
}

// prepareTier makes each tier's resources available before it runs.
func (b *bootstrapper) prepareTier(ctx context.Context, ic *extension.InitContext, tier extension.Tier) error {
	switch tier {
	case extension.CapabilityBased:
		ic.ProvideCapabilities(b.app.caps, b.app.keepalive)
	case extension.ComplexContext:
		ic.ProvideBridge(b.app.bridge, b.processInfo(ctx))
	}
	return nil
}

// processInfo describes the host process. Host metadata that cannot be
// read falls back to the runtime's view.
func (b *bootstrapper) processInfo(ctx context.Context) extension.ProcessInfo {
	info := extension.ProcessInfo{
		PID:       os.Getpid(),
		OS:        runtime.GOOS,
		Platform:  runtime.GOOS,
		StartedAt: b.app.startedAt,
	}
	if exe, err := os.Executable(); err == nil {
		info.Executable = exe
	}

	ctx, cancel := context.WithTimeout(ctx, hostInfoTimeout)
	defer cancel()
	hi, err := host.InfoWithContext(ctx)
	if err != nil || hi == nil {
		b.app.logger.Debug("host info unavailable", "error", err)
		info.Hostname, _ = os.Hostname()
		return info
	}
	info.Hostname = hi.Hostname
	if hi.OS != "" {
		info.OS = hi.OS
	}
	if hi.Platform != "" {
		info.Platform = hi.Platform
	}
	return info
}

// initScript creates the engine, registers every operation and queues the
// entry script as the first task.
func (b *bootstrapper) initScript() error {
	limits := b.app.manifest.Limits
	engine := script.New(script.Config{
		Bridge:           b.app.bridge,
		Logger:           b.app.logger.With("component", "script"),
		ExecutionTimeout: time.Duration(limits.ExecutionTimeoutMS) * time.Millisecond,
	})
	b.app.engine = engine

	if err := engine.RegisterAll(b.app.table.Bindings()); err != nil {
		return fmt.Errorf("registering operations: %w", err)
	}
	id, err := engine.RunFile(b.app.manifest.EntryPath())
	if err != nil {
		return err
	}
	b.app.entryTask = id
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	if b.app.engine != nil {
		_ = b.app.engine.Close()
		b.app.engine = nil
	}
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "extensions":
		if b.app.table != nil {
			_ = b.app.table.Close()
			b.app.table = nil
		}
	case "platform":
		if b.app.platform != nil {
			_ = b.app.platform.Desktop().Close()
		}
	case "bridge":
		if b.app.bridge != nil {
			b.app.bridge.Close()
		}
	}
}
