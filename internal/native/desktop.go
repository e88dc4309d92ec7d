package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dshills/hearth/internal/bridge"
)

// Default window size, in cells, when neither the command nor the screen
// provides one.
const (
	DefaultWidth  = 80
	DefaultHeight = 24
)

// DefaultOutboxLimit is the outbox size past which platforms stop taking
// input and the host stops executing commands until Flush catches up.
const DefaultOutboxLimit = 256

// Window is one entry of the window arena.
type Window struct {
	ID      bridge.WindowID
	Label   string
	Title   string
	Width   int
	Height  int
	Content string

	surface *Surface
}

// Desktop is the window arena shared by every platform. It owns the render
// surfaces and an outbox of events waiting to enter the bridge. Its lock is
// never held while a surface runs.
type Desktop struct {
	mu     sync.Mutex
	logger *slog.Logger

	windows map[bridge.WindowID]*Window
	order   []bridge.WindowID
	nextID  bridge.WindowID
	focused bridge.WindowID

	width, height int
	status        string
	dirty         bool

	outbox      []bridge.Event
	outboxLimit int

	quit     bool
	exitCode int
}

// NewDesktop creates an empty desktop.
func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		logger:  logger,
		windows: make(map[bridge.WindowID]*Window),
		width:   DefaultWidth,
		height:  DefaultHeight,

		outboxLimit: DefaultOutboxLimit,
	}
}

// SetOutboxLimit sets the size at which OutboxFull reports true.
func (d *Desktop) SetOutboxLimit(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.outboxLimit = n
	d.mu.Unlock()
}

// Execute performs the platform-independent commands. handled is false for
// commands that need platform interaction, such as dialogs and menus.
func (d *Desktop) Execute(cmd bridge.Command) (value any, handled bool, err error) {
	switch c := cmd.(type) {
	case bridge.CreateWindow:
		return d.create(c), true, nil
	case bridge.CloseWindow:
		return nil, true, d.close(c.Window)
	case bridge.SetWindowTitle:
		return nil, true, d.update(c.Window, func(w *Window) { w.Title = c.Title })
	case bridge.SetWindowContent:
		return nil, true, d.update(c.Window, func(w *Window) { w.Content = c.Content })
	case bridge.EvalInWindow:
		s, err := d.surface(c.Window)
		if err != nil {
			return nil, true, err
		}
		v, err := s.Eval(c.Code)
		return v, true, err
	case bridge.PostToWindow:
		s, err := d.surface(c.Window)
		if err != nil {
			return nil, true, err
		}
		delivered, err := s.Deliver(c.Channel, c.Payload)
		return delivered, true, err
	case bridge.ListWindows:
		return d.List(), true, nil
	case bridge.SetStatus:
		d.mu.Lock()
		d.status = c.Text
		d.dirty = true
		d.mu.Unlock()
		return nil, true, nil
	case bridge.Quit:
		d.RequestQuit(c.Code)
		return nil, true, nil
	default:
		return nil, false, nil
	}
}

func (d *Desktop) create(c bridge.CreateWindow) bridge.WindowID {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	w := &Window{
		ID:      id,
		Label:   c.Label,
		Title:   c.Title,
		Width:   c.Width,
		Height:  c.Height,
		Content: c.Content,
	}
	if w.Width <= 0 {
		w.Width = d.width
	}
	if w.Height <= 0 {
		w.Height = d.height
	}
	if w.Title == "" {
		w.Title = c.Label
	}
	d.windows[id] = w
	d.order = append(d.order, id)
	d.mu.Unlock()

	// The surface reports back through the desktop lock.
	s := newSurface(id, d, d.logger)
	d.mu.Lock()
	w.surface = s
	d.mu.Unlock()

	d.logger.Debug("window created", "window", uint64(id), "label", c.Label)
	d.Focus(id)
	return id
}

func (d *Desktop) close(id bridge.WindowID) error {
	d.mu.Lock()
	w, ok := d.windows[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("window %s: %w", id, bridge.ErrInvalidHandle)
	}
	delete(d.windows, id)
	for i, wid := range d.order {
		if wid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	refocus := bridge.WindowID(0)
	if d.focused == id {
		d.focused = 0
		if n := len(d.order); n > 0 {
			refocus = d.order[n-1]
		}
	}
	d.outbox = append(d.outbox, bridge.WindowClosed{Window: id})
	d.dirty = true
	d.mu.Unlock()

	if w.surface != nil {
		if err := w.surface.Close(); err != nil {
			d.logger.Warn("closing render surface", "window", uint64(id), "error", err)
		}
	}
	if refocus != 0 {
		d.Focus(refocus)
	}
	return nil
}

func (d *Desktop) update(id bridge.WindowID, fn func(*Window)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[id]
	if !ok {
		return fmt.Errorf("window %s: %w", id, bridge.ErrInvalidHandle)
	}
	fn(w)
	d.dirty = true
	return nil
}

func (d *Desktop) setContent(id bridge.WindowID, content string) {
	_ = d.update(id, func(w *Window) { w.Content = content })
}

func (d *Desktop) surface(id bridge.WindowID) (*Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[id]
	if !ok || w.surface == nil {
		return nil, fmt.Errorf("window %s: %w", id, bridge.ErrInvalidHandle)
	}
	return w.surface, nil
}

// Focus moves focus to id, emitting focus events for the old and new
// window.
func (d *Desktop) Focus(id bridge.WindowID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[id]; !ok || d.focused == id {
		return
	}
	if prev := d.focused; prev != 0 {
		d.outbox = append(d.outbox, bridge.WindowFocused{Window: prev, Focused: false})
	}
	d.focused = id
	d.outbox = append(d.outbox, bridge.WindowFocused{Window: id, Focused: true})
	d.dirty = true
}

// FocusNext cycles focus in creation order.
func (d *Desktop) FocusNext() {
	d.mu.Lock()
	next := bridge.WindowID(0)
	for i, id := range d.order {
		if id == d.focused {
			next = d.order[(i+1)%len(d.order)]
			break
		}
	}
	if next == 0 && len(d.order) > 0 {
		next = d.order[0]
	}
	d.mu.Unlock()
	if next != 0 {
		d.Focus(next)
	}
}

// Focused returns the focused window, or zero.
func (d *Desktop) Focused() bridge.WindowID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// RequestClose emits WindowCloseRequested. Scripts decide whether to close.
func (d *Desktop) RequestClose(id bridge.WindowID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[id]; ok {
		d.outbox = append(d.outbox, bridge.WindowCloseRequested{Window: id})
	}
}

// Resize sets the screen size and resizes every window to it.
func (d *Desktop) Resize(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = width, height
	for _, id := range d.order {
		w := d.windows[id]
		if w.Width == width && w.Height == height {
			continue
		}
		w.Width, w.Height = width, height
		d.outbox = append(d.outbox, bridge.WindowResized{Window: id, Width: width, Height: height})
	}
	d.dirty = true
}

// List returns every window in creation order.
func (d *Desktop) List() []bridge.WindowInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bridge.WindowInfo, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.infoLocked(d.windows[id]))
	}
	return out
}

// Get returns one window.
func (d *Desktop) Get(id bridge.WindowID) (bridge.WindowInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[id]
	if !ok {
		return bridge.WindowInfo{}, false
	}
	return d.infoLocked(w), true
}

func (d *Desktop) infoLocked(w *Window) bridge.WindowInfo {
	return bridge.WindowInfo{
		ID:      w.ID,
		Label:   w.Label,
		Title:   w.Title,
		Width:   w.Width,
		Height:  w.Height,
		Focused: w.ID == d.focused,
	}
}

// Snapshot returns a copy of the focused window and the window titles, for
// drawing.
func (d *Desktop) Snapshot() (focused Window, titles []bridge.WindowInfo, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[d.focused]; ok {
		focused = *w
		focused.surface = nil
	}
	for _, id := range d.order {
		titles = append(titles, d.infoLocked(d.windows[id]))
	}
	return focused, titles, d.status
}

// Status returns the status text.
func (d *Desktop) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// WindowCount returns the number of open windows.
func (d *Desktop) WindowCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// TakeDirty reports whether anything visible changed since the last call.
func (d *Desktop) TakeDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	dirty := d.dirty
	d.dirty = false
	return dirty
}

// Emit queues an event for the bridge.
func (d *Desktop) Emit(ev bridge.Event) {
	d.mu.Lock()
	d.outbox = append(d.outbox, ev)
	d.mu.Unlock()
}

// Outbox returns the number of events waiting for Flush.
func (d *Desktop) Outbox() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outbox)
}

// OutboxFull reports whether the outbox reached its limit. Event sources
// pause while it is full so the backlog stays bounded.
func (d *Desktop) OutboxFull() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outbox) >= d.outboxLimit
}

// Flush moves queued events into the bridge without blocking. Events that
// do not fit stay queued, in order, for the next flush.
func (d *Desktop) Flush(b *bridge.Bridge) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sent := 0
	for sent < len(d.outbox) {
		err := b.TryEmit(d.outbox[sent])
		if errors.Is(err, bridge.ErrFull) {
			break
		}
		if err != nil {
			d.outbox = d.outbox[sent:]
			return sent, err
		}
		d.outbox[sent] = nil
		sent++
	}
	d.outbox = d.outbox[sent:]
	return sent, nil
}

// RequestQuit marks the desktop for shutdown with code.
func (d *Desktop) RequestQuit(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.quit {
		d.quit = true
		d.exitCode = code
	}
}

// QuitRequested reports whether RequestQuit was called, and its code.
func (d *Desktop) QuitRequested() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit, d.exitCode
}

// Close closes every window without emitting events.
func (d *Desktop) Close() error {
	d.mu.Lock()
	windows := d.windows
	d.windows = make(map[bridge.WindowID]*Window)
	d.order = nil
	d.focused = 0
	d.mu.Unlock()

	var errs []error
	for _, w := range windows {
		if w.surface != nil {
			if err := w.surface.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Desktop) markDirty() {
	d.mu.Lock()
	d.dirty = true
	d.mu.Unlock()
}
