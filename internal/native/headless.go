package native

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dshills/hearth/internal/bridge"
)

// DefaultTick paces loops that have nothing to wait on.
const DefaultTick = 2 * time.Millisecond

// DialogResponder answers a dialog without a display.
type DialogResponder func(bridge.ShowDialog) (any, error)

// MenuResponder answers a context menu without a display.
type MenuResponder func(bridge.ShowContextMenu) (any, error)

// DefaultDialogAnswer accepts the default of every dialog: confirm is
// false, prompt returns its default text, message/open/save return nil.
func DefaultDialogAnswer(c bridge.ShowDialog) (any, error) {
	switch c.Kind {
	case bridge.DialogConfirm:
		return false, nil
	case bridge.DialogPrompt:
		return c.Default, nil
	default:
		return nil, nil
	}
}

// DismissMenu dismisses every menu.
func DismissMenu(bridge.ShowContextMenu) (any, error) {
	return nil, nil
}

// HeadlessOption configures a Headless platform.
type HeadlessOption func(*Headless)

// WithDialogResponder sets how dialogs are answered.
func WithDialogResponder(fn DialogResponder) HeadlessOption {
	return func(h *Headless) {
		if fn != nil {
			h.dialogs = fn
		}
	}
}

// WithMenuResponder sets how context menus are answered.
func WithMenuResponder(fn MenuResponder) HeadlessOption {
	return func(h *Headless) {
		if fn != nil {
			h.menus = fn
		}
	}
}

// WithTick sets the pause between iterations. Zero spins.
func WithTick(d time.Duration) HeadlessOption {
	return func(h *Headless) {
		h.tick = d
	}
}

// WithHeadlessLogger sets the logger.
func WithHeadlessLogger(l *slog.Logger) HeadlessOption {
	return func(h *Headless) {
		if l != nil {
			h.logger = l
		}
	}
}

// Headless runs the loop without a display.
type Headless struct {
	desktop *Desktop
	logger  *slog.Logger
	dialogs DialogResponder
	menus   MenuResponder
	tick    time.Duration

	mu       sync.Mutex
	injected []bridge.Event

	quit     chan struct{}
	quitOnce sync.Once
}

// NewHeadless creates a headless platform.
func NewHeadless(opts ...HeadlessOption) *Headless {
	h := &Headless{
		logger:  slog.Default(),
		dialogs: DefaultDialogAnswer,
		menus:   DismissMenu,
		tick:    DefaultTick,
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.desktop = NewDesktop(h.logger)
	return h
}

// Desktop implements Platform.
func (h *Headless) Desktop() *Desktop {
	return h.desktop
}

// Inject queues a synthetic native event, such as a key press. It is safe
// to call from any goroutine.
func (h *Headless) Inject(ev bridge.Event) {
	h.mu.Lock()
	h.injected = append(h.injected, ev)
	h.mu.Unlock()
}

// Run implements Platform.
func (h *Headless) Run(onIteration func() bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-h.quit:
			return nil
		default:
		}

		h.deliverInjected()

		if !onIteration() {
			return nil
		}
		if h.tick > 0 {
			select {
			case <-h.quit:
				return nil
			case <-time.After(h.tick):
			}
		}
	}
}

// deliverInjected moves injected events to the desktop while its outbox
// has room. The rest wait for a later iteration.
func (h *Headless) deliverInjected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for n < len(h.injected) && !h.desktop.OutboxFull() {
		h.desktop.Emit(h.injected[n])
		n++
	}
	h.injected = h.injected[n:]
}

// Execute implements Platform.
func (h *Headless) Execute(cmd bridge.Command, respond Responder) {
	switch c := cmd.(type) {
	case bridge.ShowDialog:
		respond(h.dialogs(c))
	case bridge.ShowContextMenu:
		if _, ok := h.desktop.Get(c.Window); !ok {
			respond(nil, bridge.ErrInvalidHandle)
			return
		}
		respond(h.menus(c))
	case bridge.SetStatus:
		h.desktop.Execute(c)
		h.logger.Info("status", "text", c.Text)
		respond(nil, nil)
	default:
		v, handled, err := h.desktop.Execute(cmd)
		if !handled {
			respond(nil, ErrUnsupported)
			return
		}
		respond(v, err)
	}
}

// Quit implements Platform.
func (h *Headless) Quit() {
	h.quitOnce.Do(func() { close(h.quit) })
}
