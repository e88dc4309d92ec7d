package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/native"
	"github.com/dshills/hearth/internal/script"
)

const testManifest = `
[app]
name = "testapp"
version = "0.1.0"

[permissions]
fs.write = ["~/**"]

[permissions.ui]
window = true

[extensions]
disabled = ["clipboard"]
`

// newTestApp writes a manifest and main.lua into a temporary directory,
// which is also the home directory, and creates the application on a
// headless platform.
func newTestApp(t *testing.T, code string) (*Application, *native.Headless, string) {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "hearth.toml")
	if err := os.WriteFile(manifestPath, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}

	platform := native.NewHeadless(native.WithHeadlessLogger(NopLogger()))
	app, err := New(Options{
		ManifestPath: manifestPath,
		Platform:     platform,
		Logger:       NopLogger(),
		HomeDir:      dir,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return app, platform, dir
}

// run runs app, quitting it if it has not stopped after ten seconds.
func run(t *testing.T, app *Application) error {
	t.Helper()
	stop := time.AfterFunc(10*time.Second, func() {
		t.Error("application did not stop")
		app.Quit()
	})
	defer stop.Stop()
	return app.Run()
}

func readOut(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("reading out.txt: %v", err)
	}
	return string(data)
}

func TestNewRequiresManifestOrEntry(t *testing.T) {
	_, err := New(Options{Logger: NopLogger()})
	if !errors.Is(err, ErrNoManifest) {
		t.Fatalf("expected ErrNoManifest, got %v", err)
	}
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "manifest" {
		t.Errorf("expected manifest InitError, got %#v", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("expected exit code 2, got %d", ExitCode(err))
	}
}

func TestNewInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hearth.toml")
	if err := os.WriteFile(path, []byte("[app]\nversion = \"1.0.0\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := New(Options{ManifestPath: path, Logger: NopLogger()})
	if err == nil {
		t.Fatal("expected an error for a manifest without a name")
	}
}

func TestNewMissingEntry(t *testing.T) {
	_, err := New(Options{Entry: filepath.Join(t.TempDir(), "missing.lua"), Logger: NopLogger()})
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "script" {
		t.Fatalf("expected script InitError, got %v", err)
	}
}

func TestRunEntryScript(t *testing.T) {
	app, _, dir := newTestApp(t, `
		local _, err = hearth.fs.write_file("~/out.txt", "hello")
		assert(err == nil, err and err.message)
	`)
	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := readOut(t, dir); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if app.IsRunning() {
		t.Error("expected application to be stopped")
	}
	if snap := app.Metrics().Snapshot(); snap.Iterations == 0 {
		t.Error("expected iterations to be recorded")
	}
}

func TestRunTwice(t *testing.T) {
	app, _, _ := newTestApp(t, `return`)
	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if err := app.Run(); !errors.Is(err, ErrShutDown) {
		t.Errorf("expected ErrShutDown, got %v", err)
	}
}

func TestRunExitCode(t *testing.T) {
	app, _, _ := newTestApp(t, `
		hearth.app.exit(3)
		while true do hearth.timers.sleep(10) end
	`)
	err := run(t, app)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if ExitCode(err) != 3 {
		t.Errorf("ExitCode() = %d, expected 3", ExitCode(err))
	}
}

func TestRunEntryFailure(t *testing.T) {
	app, _, _ := newTestApp(t, `error("boom")`)
	err := run(t, app)
	var terr *script.TaskError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a task error, got %v", err)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, expected 1", ExitCode(err))
	}
}

func TestScriptSeesErrorKinds(t *testing.T) {
	app, _, dir := newTestApp(t, `
		local _, denied = hearth.fs.read_file("/etc/hostname")
		local _, missing = hearth.clipboard.read()
		hearth.fs.write_file("~/out.txt", denied.kind .. "," .. missing.kind)
	`)
	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := readOut(t, dir); got != "CapabilityDenied,NotFound" {
		t.Errorf("unexpected kinds %q", got)
	}
}

func TestRunWindowRoundTrip(t *testing.T) {
	app, platform, dir := newTestApp(t, `
		local id = assert(hearth.window.create({title = "Main"}))
		local v = hearth.window.eval(id, "return 1 + 1")
		hearth.fs.write_file("~/out.txt", tostring(v))
		hearth.window.close(id)
	`)
	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := readOut(t, dir); got != "2" {
		t.Errorf("expected 2, got %q", got)
	}
	if n := platform.Desktop().WindowCount(); n != 0 {
		t.Errorf("expected no windows, got %d", n)
	}
	if snap := app.Metrics().Snapshot(); snap.Commands == 0 {
		t.Error("expected commands to be recorded")
	}
}

func TestCloseRequestClosesWindow(t *testing.T) {
	app, platform, dir := newTestApp(t, `
		assert(hearth.window.create({}))
		local ev = hearth.events.next("window.*", {type = "closed"})
		hearth.fs.write_file("~/out.txt", ev.type)
	`)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if list := platform.Desktop().List(); len(list) > 0 {
				platform.Inject(bridge.WindowCloseRequested{Window: list[0].ID})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := readOut(t, dir); got != "closed" {
		t.Errorf("expected closed, got %q", got)
	}
}

func TestWindowKeepsLoopAlive(t *testing.T) {
	app, platform, _ := newTestApp(t, `assert(hearth.window.create({}))`)

	start := time.Now()
	quit := time.AfterFunc(100*time.Millisecond, app.Quit)
	defer quit.Stop()
	if err := run(t, app); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("expected the open window to keep the loop running until Quit")
	}
	if n := platform.Desktop().WindowCount(); n != 0 {
		t.Errorf("expected shutdown to close windows, got %d", n)
	}
}

func TestPlatformQuitKeepsCode(t *testing.T) {
	app, platform, _ := newTestApp(t, `assert(hearth.window.create({}))`)

	// An interrupted terminal records the code and stops the platform at
	// once, without waiting for the loop to notice the request.
	stop := time.AfterFunc(50*time.Millisecond, func() {
		platform.Desktop().RequestQuit(130)
		platform.Quit()
	})
	defer stop.Stop()

	err := run(t, app)
	if ExitCode(err) != 130 {
		t.Fatalf("expected exit code 130, got %v", err)
	}
}

func TestShutdownResolvesPending(t *testing.T) {
	app, _, _ := newTestApp(t, `return`)
	fut, err := app.Bridge().TryRequest(bridge.ListWindows{})
	if err != nil {
		t.Fatal(err)
	}
	app.Shutdown()

	done, _, err := fut.Poll()
	if !done || !errors.Is(err, bridge.ErrShuttingDown) {
		t.Errorf("expected ShuttingDown, got done=%v err=%v", done, err)
	}
	app.Shutdown()
}

func TestExtensionsInitialized(t *testing.T) {
	app, _, _ := newTestApp(t, `return`)
	defer app.Shutdown()

	for _, name := range []string{"console", "fs", "window", "app"} {
		if _, ok := app.Extensions().Get(name); !ok {
			t.Errorf("expected extension %s to be available", name)
		}
	}
	if _, ok := app.Extensions().Get("clipboard"); ok {
		t.Error("expected disabled clipboard to be unavailable")
	}
	if app.Manifest().App.Name != "testapp" {
		t.Errorf("unexpected app name %q", app.Manifest().App.Name)
	}
}
