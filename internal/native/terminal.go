package native

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/hearth/internal/bridge"
)

// Terminal runs the loop on a tcell screen. The focused window fills the
// screen between a title bar and a status line. Tab cycles focus, Ctrl-W
// asks to close the focused window and Ctrl-C quits.
type Terminal struct {
	desktop *Desktop
	screen  tcell.Screen
	logger  *slog.Logger
	tick    time.Duration

	events   chan tcell.Event
	quit     chan struct{}
	quitOnce sync.Once

	// Modal state, touched only on the loop goroutine.
	dialog *activeDialog
	menu   *activeMenu
}

type activeDialog struct {
	cmd     bridge.ShowDialog
	respond Responder
	input   []rune
}

type activeMenu struct {
	cmd      bridge.ShowContextMenu
	respond  Responder
	selected int
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithScreen uses screen instead of the process terminal.
func WithScreen(screen tcell.Screen) TerminalOption {
	return func(t *Terminal) {
		t.screen = screen
	}
}

// WithTerminalLogger sets the logger.
func WithTerminalLogger(l *slog.Logger) TerminalOption {
	return func(t *Terminal) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithFrameInterval sets how long an idle iteration waits for input.
func WithFrameInterval(d time.Duration) TerminalOption {
	return func(t *Terminal) {
		if d > 0 {
			t.tick = d
		}
	}
}

// NewTerminal creates a terminal platform.
func NewTerminal(opts ...TerminalOption) (*Terminal, error) {
	t := &Terminal{
		logger: slog.Default(),
		tick:   10 * time.Millisecond,
		events: make(chan tcell.Event, 64),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.screen == nil {
		screen, err := tcell.NewScreen()
		if err != nil {
			return nil, fmt.Errorf("creating terminal screen: %w", err)
		}
		t.screen = screen
	}
	t.desktop = NewDesktop(t.logger)
	return t, nil
}

// Desktop implements Platform.
func (t *Terminal) Desktop() *Desktop {
	return t.desktop
}

// Run implements Platform. The screen is initialized on the calling
// goroutine, which stays locked to its OS thread until Run returns.
func (t *Terminal) Run(onIteration func() bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := t.screen.Init(); err != nil {
		return fmt.Errorf("initializing terminal: %w", err)
	}
	defer t.screen.Fini()
	t.screen.EnableFocus()

	w, h := t.screen.Size()
	t.desktop.Resize(w, contentHeight(h))

	go t.pollEvents()

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	t.draw()
	for {
		t.drainEvents()
		select {
		case <-t.quit:
			return nil
		default:
		}

		if !onIteration() {
			return nil
		}
		t.dropOrphanMenu()
		if t.desktop.TakeDirty() {
			t.draw()
		}

		select {
		case <-t.quit:
			return nil
		case ev := <-t.input():
			t.handle(ev)
		case <-ticker.C:
		}
	}
}

// input is the terminal event channel, or nil while the desktop outbox is
// full so that input waits in tcell instead of piling up as events.
func (t *Terminal) input() <-chan tcell.Event {
	if t.desktop.OutboxFull() {
		return nil
	}
	return t.events
}

func (t *Terminal) pollEvents() {
	for {
		ev := t.screen.PollEvent()
		if ev == nil {
			return
		}
		if k, ok := ev.(*tcell.EventKey); ok && k.Key() == tcell.KeyCtrlC && t.desktop.OutboxFull() {
			// Input is paused; Ctrl-C still quits.
			t.interrupt()
			continue
		}
		select {
		case t.events <- ev:
		case <-t.quit:
			return
		}
	}
}

func (t *Terminal) drainEvents() {
	for !t.desktop.OutboxFull() {
		select {
		case ev := <-t.events:
			t.handle(ev)
		default:
			return
		}
	}
}

// Execute implements Platform.
func (t *Terminal) Execute(cmd bridge.Command, respond Responder) {
	switch c := cmd.(type) {
	case bridge.ShowDialog:
		t.cancelDialog()
		t.dialog = &activeDialog{cmd: c, respond: respond, input: []rune(c.Default)}
		t.draw()
	case bridge.ShowContextMenu:
		if _, ok := t.desktop.Get(c.Window); !ok {
			respond(nil, bridge.ErrInvalidHandle)
			return
		}
		if len(c.Items) == 0 {
			respond(nil, nil)
			return
		}
		// One menu is shown at a time, whatever window it belongs to.
		t.cancelMenu(bridge.ErrCancelled)
		t.menu = &activeMenu{cmd: c, respond: respond}
		t.draw()
	default:
		v, handled, err := t.desktop.Execute(cmd)
		if !handled {
			respond(nil, ErrUnsupported)
			return
		}
		respond(v, err)
	}
}

// cancelDialog answers the shown dialog with ErrCancelled.
func (t *Terminal) cancelDialog() {
	if d := t.dialog; d != nil {
		t.dialog = nil
		t.desktop.markDirty()
		d.respond(nil, bridge.ErrCancelled)
	}
}

// cancelMenu answers the shown menu with err.
func (t *Terminal) cancelMenu(err error) {
	if m := t.menu; m != nil {
		t.menu = nil
		t.desktop.markDirty()
		m.respond(nil, err)
	}
}

// dropOrphanMenu dismisses the menu of a window that has closed.
func (t *Terminal) dropOrphanMenu() {
	if t.menu == nil {
		return
	}
	if _, ok := t.desktop.Get(t.menu.cmd.Window); !ok {
		t.cancelMenu(bridge.ErrInvalidHandle)
	}
}

// interrupt quits with the conventional SIGINT exit status.
func (t *Terminal) interrupt() {
	t.desktop.RequestQuit(130)
	t.Quit()
}

// Quit implements Platform.
func (t *Terminal) Quit() {
	t.quitOnce.Do(func() { close(t.quit) })
}

func (t *Terminal) handle(ev tcell.Event) {
	switch e := ev.(type) {
	case *tcell.EventResize:
		w, h := e.Size()
		t.desktop.Resize(w, contentHeight(h))
		t.screen.Sync()
	case *tcell.EventFocus:
		if id := t.desktop.Focused(); id != 0 {
			t.desktop.Emit(bridge.WindowFocused{Window: id, Focused: e.Focused})
		}
	case *tcell.EventKey:
		t.handleKey(e)
	}
}

func (t *Terminal) handleKey(e *tcell.EventKey) {
	if t.dialog != nil {
		t.dialogKey(e)
		return
	}
	if t.menu != nil {
		t.menuKey(e)
		return
	}

	switch e.Key() {
	case tcell.KeyCtrlC:
		t.interrupt()
		return
	case tcell.KeyTab:
		t.desktop.FocusNext()
		return
	case tcell.KeyCtrlW:
		if id := t.desktop.Focused(); id != 0 {
			t.desktop.RequestClose(id)
		}
		return
	}
	t.desktop.Emit(keyEvent(t.desktop.Focused(), e))
}

func (t *Terminal) dialogKey(e *tcell.EventKey) {
	d := t.dialog
	finish := func(v any) {
		t.dialog = nil
		t.desktop.markDirty()
		d.respond(v, nil)
	}

	switch e.Key() {
	case tcell.KeyEscape:
		switch d.cmd.Kind {
		case bridge.DialogConfirm:
			finish(false)
		default:
			finish(nil)
		}
	case tcell.KeyEnter:
		switch d.cmd.Kind {
		case bridge.DialogConfirm:
			finish(true)
		case bridge.DialogMessage:
			finish(nil)
		default:
			finish(string(d.input))
		}
	case tcell.KeyBackspace:
		if n := len(d.input); n > 0 {
			d.input = d.input[:n-1]
			t.draw()
		}
	case tcell.KeyRune:
		if d.cmd.Kind == bridge.DialogConfirm {
			switch e.Rune() {
			case 'y', 'Y':
				finish(true)
			case 'n', 'N':
				finish(false)
			}
			return
		}
		if d.cmd.Kind != bridge.DialogMessage {
			d.input = append(d.input, e.Rune())
			t.draw()
		}
	}
}

func (t *Terminal) menuKey(e *tcell.EventKey) {
	m := t.menu
	finish := func(v any) {
		t.menu = nil
		t.desktop.markDirty()
		m.respond(v, nil)
	}

	switch e.Key() {
	case tcell.KeyEscape:
		finish(nil)
	case tcell.KeyEnter:
		finish(m.cmd.Items[m.selected].ID)
	case tcell.KeyUp:
		if m.selected > 0 {
			m.selected--
			t.draw()
		}
	case tcell.KeyDown:
		if m.selected < len(m.cmd.Items)-1 {
			m.selected++
			t.draw()
		}
	}
}

// keyEvent converts a tcell key to a KeyPressed event.
func keyEvent(window bridge.WindowID, e *tcell.EventKey) bridge.KeyPressed {
	ev := bridge.KeyPressed{Window: window}
	if e.Key() == tcell.KeyRune {
		ev.Key = "rune"
		ev.Rune = string(e.Rune())
	} else if name, ok := tcell.KeyNames[e.Key()]; ok {
		ev.Key = name
	} else {
		ev.Key = e.Name()
	}

	m := e.Modifiers()
	if m&tcell.ModShift != 0 {
		ev.Mods = append(ev.Mods, "shift")
	}
	if m&tcell.ModCtrl != 0 {
		ev.Mods = append(ev.Mods, "ctrl")
	}
	if m&tcell.ModAlt != 0 {
		ev.Mods = append(ev.Mods, "alt")
	}
	if m&tcell.ModMeta != 0 {
		ev.Mods = append(ev.Mods, "meta")
	}
	return ev
}

// contentHeight is the screen height minus the title bar and status line.
func contentHeight(h int) int {
	if h <= 2 {
		return 0
	}
	return h - 2
}
