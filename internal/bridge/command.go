package bridge

import "strconv"

// WindowID is an opaque handle to a native window. Zero is never valid.
type WindowID uint64

// String returns the decimal form of the id.
func (id WindowID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Command is a request from the script context to the native run-loop.
// The set of commands is closed; every variant lives in this file.
type Command interface {
	Name() string
	isCommand()
}

// Slotted is implemented by commands that occupy an exclusive slot. At most
// one request per slot is pending at a time.
type Slotted interface {
	Slot() string
}

// CreateWindow opens a window. Responds with the new WindowID.
type CreateWindow struct {
	Label   string
	Title   string
	Width   int
	Height  int
	Content string
}

// CloseWindow destroys a window.
type CloseWindow struct {
	Window WindowID
}

// SetWindowTitle updates a window title.
type SetWindowTitle struct {
	Window WindowID
	Title  string
}

// SetWindowContent replaces the text a window renders.
type SetWindowContent struct {
	Window  WindowID
	Content string
}

// EvalInWindow runs code in the window's render surface. Responds with the
// result of the evaluation.
type EvalInWindow struct {
	Window WindowID
	Code   string
}

// PostToWindow delivers a message to a render surface.
type PostToWindow struct {
	Window  WindowID
	Channel string
	Payload any
}

// ListWindows responds with a []WindowInfo snapshot.
type ListWindows struct{}

// DialogKind selects the dialog shown by ShowDialog.
type DialogKind string

// Dialog kinds.
const (
	DialogMessage DialogKind = "message"
	DialogConfirm DialogKind = "confirm"
	DialogPrompt  DialogKind = "prompt"
	DialogOpen    DialogKind = "open"
	DialogSave    DialogKind = "save"
)

// ShowDialog shows a modal dialog. Responds with bool for confirm, the
// entered string for prompt/open/save (nil when dismissed) and nil for
// message.
type ShowDialog struct {
	Kind    DialogKind
	Title   string
	Message string
	Default string
}

// Slot places all dialogs in one slot: a new dialog supersedes the open one.
func (c ShowDialog) Slot() string { return "dialog" }

// MenuItem is one entry of a context menu.
type MenuItem struct {
	ID    string
	Label string
}

// ShowContextMenu pops up a menu over a window. Responds with the chosen
// item id, or nil when dismissed.
type ShowContextMenu struct {
	Window WindowID
	Items  []MenuItem
}

// Slot returns the per-window menu slot.
func (c ShowContextMenu) Slot() string { return "menu:" + c.Window.String() }

// SetStatus updates the status area text.
type SetStatus struct {
	Text string
}

// Quit asks the run-loop to stop with the given exit code.
type Quit struct {
	Code int
}

func (CreateWindow) Name() string     { return "create_window" }
func (CloseWindow) Name() string      { return "close_window" }
func (SetWindowTitle) Name() string   { return "set_window_title" }
func (SetWindowContent) Name() string { return "set_window_content" }
func (EvalInWindow) Name() string     { return "eval_in_window" }
func (PostToWindow) Name() string     { return "post_to_window" }
func (ListWindows) Name() string      { return "list_windows" }
func (ShowDialog) Name() string       { return "show_dialog" }
func (ShowContextMenu) Name() string  { return "show_context_menu" }
func (SetStatus) Name() string        { return "set_status" }
func (Quit) Name() string             { return "quit" }

func (CreateWindow) isCommand()     {}
func (CloseWindow) isCommand()      {}
func (SetWindowTitle) isCommand()   {}
func (SetWindowContent) isCommand() {}
func (EvalInWindow) isCommand()     {}
func (PostToWindow) isCommand()     {}
func (ListWindows) isCommand()      {}
func (ShowDialog) isCommand()       {}
func (ShowContextMenu) isCommand()  {}
func (SetStatus) isCommand()        {}
func (Quit) isCommand()             {}

// WindowInfo describes a live window.
type WindowInfo struct {
	ID      WindowID
	Label   string
	Title   string
	Width   int
	Height  int
	Focused bool
}

// Fields returns the info as a plain map.
func (w WindowInfo) Fields() map[string]any {
	return map[string]any{
		"id":      int64(w.ID),
		"label":   w.Label,
		"title":   w.Title,
		"width":   w.Width,
		"height":  w.Height,
		"focused": w.Focused,
	}
}

// Envelope carries a command across the bridge. ID is empty for
// fire-and-forget commands.
type Envelope struct {
	ID      string
	Command Command
}

// ExpectsResponse reports whether the native side must call Respond.
func (e Envelope) ExpectsResponse() bool {
	return e.ID != ""
}
