// Package ext holds the compiled-in extensions exposed to scripts under the
// hearth table.
//
// Every extension follows the same shape: a descriptor naming its tier and
// operations, an init function that pulls what it needs from the
// extension.InitContext, and a module type whose methods implement the
// operations. Gated operations call capability.Set.Require before doing any
// work.
package ext

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// Default returns the descriptors of every compiled-in extension.
func Default() []extension.Descriptor {
	return []extension.Descriptor{
		consoleDescriptor(),
		jsonDescriptor(),
		timersDescriptor(),
		clipboardDescriptor(),
		fsDescriptor(),
		netDescriptor(),
		processDescriptor(),
		wasmDescriptor(),
		watchDescriptor(),
		windowDescriptor(),
		dialogDescriptor(),
		menuDescriptor(),
		ipcDescriptor(),
		eventsDescriptor(),
		trayDescriptor(),
		appDescriptor(),
	}
}

// Register adds every compiled-in extension to r.
func Register(r *extension.Registry) error {
	for _, d := range Default() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// handles issues ids for listeners, sockets, watches and modules. Ids are
// unique across extensions so a stale id never names another resource.
var handles atomic.Int64

func nextHandle() int64 {
	return handles.Add(1)
}

func extLogger(ic *extension.InitContext, name string) *slog.Logger {
	return ic.Logger().With("ext", name)
}

// then post-processes the value of a completed poller.
func then(p extension.Poller, fn func(v any) (any, error)) extension.Poller {
	return extension.PollFunc(func() (bool, any, error) {
		done, v, err := p.Poll()
		if !done || err != nil {
			return done, nil, err
		}
		v, err = fn(v)
		return true, v, err
	})
}

// listenerSet tracks listeners owned by one extension so off() and Close
// can release them.
type listenerSet struct {
	mu    sync.Mutex
	items map[int64]*ownedListener
}

type ownedListener struct {
	sub     *bridge.Subscription
	release func()
}

func newListenerSet() *listenerSet {
	return &listenerSet{items: make(map[int64]*ownedListener)}
}

// add subscribes handler to events matching pattern and filter, holding a
// keepalive until the listener is removed.
func (s *listenerSet) add(b *bridge.Bridge, keep *extension.Keepalive, pattern string, filter func(bridge.Event) bool, handler extension.Callback) *extension.Listener {
	sub := b.Subscribe(pattern, filter)
	id := nextHandle()
	release := func() {}
	if keep != nil {
		release = keep.Acquire()
	}
	s.mu.Lock()
	s.items[id] = &ownedListener{sub: sub, release: release}
	s.mu.Unlock()
	return &extension.Listener{ID: id, Stream: sub, Handler: handler}
}

func (s *listenerSet) remove(id int64) bool {
	s.mu.Lock()
	l, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	l.sub.Close()
	l.release()
	return true
}

func (s *listenerSet) closeAll() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[int64]*ownedListener)
	s.mu.Unlock()
	for _, l := range items {
		l.sub.Close()
		l.release()
	}
}

// resolvePath turns a script path into the absolute, cleaned, slash
// separated form capability checks and file operations use. "~" expands to
// home; relative paths resolve against base.
func resolvePath(p, home, base string) string {
	switch {
	case p == "~" && home != "":
		p = home
	case strings.HasPrefix(p, "~/") && home != "":
		p = filepath.Join(home, p[2:])
	case !filepath.IsAbs(p):
		if base == "" {
			if wd, err := os.Getwd(); err == nil {
				base = wd
			}
		}
		p = filepath.Join(base, p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// maxLinkHops bounds the dangling links realPath follows.
const maxLinkHops = 40

// requirePath checks the resolved script path p against class, and, when
// links lead elsewhere, the path they lead to as well.
func requirePath(caps *capability.Set, class capability.Class, p string) error {
	if err := caps.Require(class, p); err != nil {
		return err
	}
	if linked := realPath(p, caps.HomeDir()); linked != p {
		return caps.Require(class, linked)
	}
	return nil
}

// realPath resolves the symbolic links along p, including a final link
// whose target does not exist yet. Components past the longest existing
// prefix are kept as written. A result inside the real home directory is
// rewritten under home so "~" patterns still apply when home is a link.
func realPath(p, home string) string {
	native := filepath.FromSlash(p)
	var rest []string
	for hops := 0; hops < maxLinkHops; {
		if r, err := filepath.EvalSymlinks(native); err == nil {
			native = r
			break
		}
		if fi, err := os.Lstat(native); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(native)
			if err != nil {
				break
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(native), target)
			}
			native = target
			hops++
			continue
		}
		parent := filepath.Dir(native)
		if parent == native {
			break
		}
		rest = append(rest, filepath.Base(native))
		native = parent
	}
	for i := len(rest) - 1; i >= 0; i-- {
		native = filepath.Join(native, rest[i])
	}

	if home != "" {
		if realHome, err := filepath.EvalSymlinks(home); err == nil && realHome != home {
			if rel, err := filepath.Rel(realHome, native); err == nil && rel != ".." &&
				!strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				native = filepath.Join(home, rel)
			}
		}
	}
	return filepath.ToSlash(filepath.Clean(native))
}
