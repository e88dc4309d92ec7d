package bridge

import "strconv"

// Source names used by native events. Window events come from
// "window.<id>", file watches from "watch.<id>", everything else from
// "app".
const (
	SourceApp = "app"
)

// WindowSource returns the source name of a window.
func WindowSource(id WindowID) string {
	return "window." + id.String()
}

// WatchSource returns the source name of a file watch.
func WatchSource(id int64) string {
	return "watch." + strconv.FormatInt(id, 10)
}

// Event is a notification from the native side. Events of one source are
// delivered in emission order.
type Event interface {
	Source() string
	Type() string

	// Fields returns the event as a plain map including "type" and "source".
	Fields() map[string]any

	isEvent()
}

// WindowResized reports a new window size.
type WindowResized struct {
	Window        WindowID
	Width, Height int
}

// WindowFocused reports a focus change.
type WindowFocused struct {
	Window  WindowID
	Focused bool
}

// WindowCloseRequested reports that the user asked to close a window.
type WindowCloseRequested struct {
	Window WindowID
}

// WindowClosed reports that a window no longer exists.
type WindowClosed struct {
	Window WindowID
}

// KeyPressed reports a key press delivered to a window, or to the app when
// Window is zero.
type KeyPressed struct {
	Window WindowID
	Key    string
	Rune   string
	Mods   []string
}

// IPCMessage carries a message posted by a render surface.
type IPCMessage struct {
	Window  WindowID
	Channel string
	Payload any
}

// FileChanged reports a change observed by a file watch.
type FileChanged struct {
	Watch int64
	Path  string
	Op    string
}

func (e WindowResized) Source() string        { return WindowSource(e.Window) }
func (e WindowFocused) Source() string        { return WindowSource(e.Window) }
func (e WindowCloseRequested) Source() string { return WindowSource(e.Window) }
func (e WindowClosed) Source() string         { return WindowSource(e.Window) }
func (e IPCMessage) Source() string           { return WindowSource(e.Window) }
func (e FileChanged) Source() string          { return WatchSource(e.Watch) }

func (e KeyPressed) Source() string {
	if e.Window == 0 {
		return SourceApp
	}
	return WindowSource(e.Window)
}

func (WindowResized) Type() string        { return "resized" }
func (WindowFocused) Type() string        { return "focused" }
func (WindowCloseRequested) Type() string { return "close_requested" }
func (WindowClosed) Type() string         { return "closed" }
func (KeyPressed) Type() string           { return "key" }
func (IPCMessage) Type() string           { return "ipc" }
func (FileChanged) Type() string          { return "fs_changed" }

func (WindowResized) isEvent()        {}
func (WindowFocused) isEvent()        {}
func (WindowCloseRequested) isEvent() {}
func (WindowClosed) isEvent()         {}
func (KeyPressed) isEvent()           {}
func (IPCMessage) isEvent()           {}
func (FileChanged) isEvent()          {}

func base(e Event) map[string]any {
	return map[string]any{"type": e.Type(), "source": e.Source()}
}

func (e WindowResized) Fields() map[string]any {
	m := base(e)
	m["window"] = int64(e.Window)
	m["width"] = e.Width
	m["height"] = e.Height
	return m
}

func (e WindowFocused) Fields() map[string]any {
	m := base(e)
	m["window"] = int64(e.Window)
	m["focused"] = e.Focused
	return m
}

func (e WindowCloseRequested) Fields() map[string]any {
	m := base(e)
	m["window"] = int64(e.Window)
	return m
}

func (e WindowClosed) Fields() map[string]any {
	m := base(e)
	m["window"] = int64(e.Window)
	return m
}

func (e KeyPressed) Fields() map[string]any {
	m := base(e)
	if e.Window != 0 {
		m["window"] = int64(e.Window)
	}
	m["key"] = e.Key
	if e.Rune != "" {
		m["rune"] = e.Rune
	}
	if len(e.Mods) > 0 {
		m["mods"] = e.Mods
	}
	return m
}

func (e IPCMessage) Fields() map[string]any {
	m := base(e)
	m["window"] = int64(e.Window)
	m["channel"] = e.Channel
	m["payload"] = e.Payload
	return m
}

func (e FileChanged) Fields() map[string]any {
	m := base(e)
	m["watch"] = e.Watch
	m["path"] = e.Path
	m["op"] = e.Op
	return m
}
