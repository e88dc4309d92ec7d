// Package app provides the host process. It loads the manifest, compiles
// permissions, initializes the compiled-in extensions tier by tier, runs the
// entry script and drives the native run-loop, pumping the script engine
// once per iteration.
package app

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
	"github.com/dshills/hearth/internal/manifest"
	"github.com/dshills/hearth/internal/native"
	"github.com/dshills/hearth/internal/script"
)

// Application composes the extension states, the bridge, the script engine
// and the native platform.
type Application struct {
	opts   Options
	logger *slog.Logger

	manifest  *manifest.Manifest
	caps      *capability.Set
	keepalive *extension.Keepalive
	bridge    *bridge.Bridge
	table     *extension.StateTable
	engine    *script.Engine
	platform  native.Platform

	// closeRequests sees every close request so windows close unless
	// ManualClose is set.
	closeRequests *bridge.Subscription

	metrics   *Metrics
	startedAt time.Time
	entryTask int64

	// Touched only on the loop goroutine.
	exitCode int

	running      atomic.Bool
	shutdownOnce sync.Once
	stopped      atomic.Bool
}

// Options configures the application.
type Options struct {
	// ManifestPath is the hearth.toml or hearth.yaml to load.
	ManifestPath string

	// Manifest is used instead of loading ManifestPath when set.
	Manifest *manifest.Manifest

	// Entry overrides the manifest's entry script. With no manifest it runs
	// alone with an empty permission set.
	Entry string

	// Platform owns the run-loop. Defaults to a headless platform.
	Platform native.Platform

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// ParallelInit initializes extensions of one tier concurrently. The
	// manifest's extensions.parallel_init also enables it.
	ParallelInit bool

	// HomeDir overrides the directory "~" expands to.
	HomeDir string

	// Extensions replaces the compiled-in descriptor list.
	Extensions []extension.Descriptor

	// ManualClose leaves close requests to the script instead of closing
	// the window.
	ManualClose bool
}

// New creates the application and runs every initialization step. The
// entry script is compiled and queued but does not run until Run.
func New(opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		opts:      opts,
		logger:    logger,
		keepalive: &extension.Keepalive{},
		metrics:   NewMetrics(),
		startedAt: time.Now(),
	}
	if err := newBootstrapper(app, opts).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Run drives the native loop until the script exits, the quit condition
// holds or the platform stops. It shuts the application down before
// returning. A non-zero code passed to app.exit is returned as *ExitError.
func (app *Application) Run() error {
	if app.stopped.Load() {
		return ErrShutDown
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)
	defer app.Shutdown()

	app.logger.Info("running", "app", app.manifest.App.Name, "entry", app.manifest.EntryPath())
	if err := app.platform.Run(app.iterate); err != nil {
		return err
	}
	// The platform may stop on its own after requesting a quit, as the
	// terminal does on Ctrl-C, before the loop saw the request.
	if quit, code := app.platform.Desktop().QuitRequested(); quit && app.exitCode == 0 {
		app.exitCode = code
	}

	if err := app.entryError(); err != nil {
		return err
	}
	if app.exitCode != 0 {
		return &ExitError{Code: app.exitCode}
	}
	return nil
}

// entryError returns the failure of the entry task, if it failed.
func (app *Application) entryError() error {
	for _, terr := range app.engine.Errors() {
		if terr.Task == app.entryTask {
			return terr
		}
	}
	return nil
}

// Quit asks the loop to stop after the current iteration. It is safe to
// call from any goroutine.
func (app *Application) Quit() {
	app.platform.Quit()
}

// Shutdown closes the bridge, resolving every pending request with
// ShuttingDown, then releases the engine, the extension states and the
// windows. It is idempotent.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		app.stopped.Store(true)
		app.shutdown()
	})
}

func (app *Application) shutdown() {
	var errs []error

	app.bridge.Close()
	if app.engine != nil {
		errs = append(errs, app.engine.Close())
	}
	if app.table != nil {
		errs = append(errs, app.table.Close())
	}
	errs = append(errs, app.platform.Desktop().Close())

	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("shutdown", "error", err)
	}
	snap := app.metrics.Snapshot()
	app.logger.Debug("stopped",
		"uptime", snap.Uptime,
		"iterations", snap.Iterations,
		"commands", snap.Commands,
		"events", snap.Events,
		"resumed", snap.Resumed)
}

// IsRunning reports whether Run is executing.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Manifest returns the loaded manifest.
func (app *Application) Manifest() *manifest.Manifest {
	return app.manifest
}

// Capabilities returns the compiled permission set.
func (app *Application) Capabilities() *capability.Set {
	return app.caps
}

// Bridge returns the command/event bridge.
func (app *Application) Bridge() *bridge.Bridge {
	return app.bridge
}

// Extensions returns the initialized extension states.
func (app *Application) Extensions() *extension.StateTable {
	return app.table
}

// Engine returns the script engine. It must only be used from the loop
// goroutine.
func (app *Application) Engine() *script.Engine {
	return app.engine
}

// Platform returns the native platform.
func (app *Application) Platform() native.Platform {
	return app.platform
}

// Metrics returns the run-loop metrics.
func (app *Application) Metrics() *Metrics {
	return app.metrics
}
