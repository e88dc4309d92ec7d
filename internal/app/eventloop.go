package app

import (
	"time"

	"github.com/dshills/hearth/internal/bridge"
)

// iterate is the per-iteration hook handed to the platform. It runs on the
// loop goroutine: it executes queued commands, pumps the engine once, and
// forwards native events into the bridge. It returns false to stop the loop.
func (app *Application) iterate() bool {
	start := time.Now()
	defer func() { app.metrics.RecordIteration(time.Since(start)) }()

	app.executeCommands()
	app.metrics.RecordResumed(app.engine.Pump())
	app.flushEvents()
	app.closeRequestedWindows()

	return !app.shouldQuit()
}

// executeCommands hands queued commands to the platform. At most one
// channel's worth is taken per iteration so a busy script cannot starve the
// pump. Commands wait in the channel while the desktop outbox is full.
func (app *Application) executeCommands() {
	cmds := app.bridge.Commands()
	desktop := app.platform.Desktop()
	for n, limit := 0, app.bridge.Capacity(); n < limit; n++ {
		if desktop.OutboxFull() {
			return
		}
		select {
		case env := <-cmds:
			app.platform.Execute(env.Command, app.responder(env))
		default:
			return
		}
	}
}

// responder completes env. Platforms may call it on a later iteration, for
// example when a dialog is answered.
func (app *Application) responder(env bridge.Envelope) func(any, error) {
	return func(v any, err error) {
		app.metrics.RecordCommand(err != nil)
		if err != nil {
			app.logger.Debug("command failed", "command", env.Command.Name(), "error", err)
		}
		if env.ExpectsResponse() {
			app.bridge.Respond(env.ID, v, err)
		}
	}
}

// flushEvents forwards the desktop outbox. Events that do not fit stay
// queued for the next iteration.
func (app *Application) flushEvents() {
	desktop := app.platform.Desktop()
	sent, err := desktop.Flush(app.bridge)
	app.metrics.RecordEvents(sent, desktop.Outbox())
	if err != nil {
		app.logger.Debug("event flush stopped", "error", err)
	}
}

// closeRequestedWindows closes windows whose close was requested natively.
func (app *Application) closeRequestedWindows() {
	if app.closeRequests == nil {
		return
	}
	desktop := app.platform.Desktop()
	for {
		ev, ok := app.closeRequests.TryNext()
		if !ok {
			return
		}
		req := ev.(bridge.WindowCloseRequested)
		if _, _, err := desktop.Execute(bridge.CloseWindow{Window: req.Window}); err != nil {
			app.logger.Debug("close request", "window", req.Window, "error", err)
		}
	}
}

// shouldQuit reports whether the loop should stop: the script asked to
// exit, or nothing can make progress any more. Nothing can make progress
// when no task is live, no window is open, nothing holds the keepalive and
// no command or event is still in flight.
func (app *Application) shouldQuit() bool {
	desktop := app.platform.Desktop()
	if quit, code := desktop.QuitRequested(); quit {
		app.exitCode = code
		return true
	}
	return app.engine.Idle() &&
		desktop.WindowCount() == 0 &&
		app.keepalive.Count() == 0 &&
		len(app.bridge.Commands()) == 0 &&
		app.bridge.Pending() == 0 &&
		desktop.Outbox() == 0
}
