package ext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

func watchDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "watch",
		Tier:     extension.ComplexContext,
		Required: true,
		Ops:      []string{"start", "stop"},
		Init:     initWatch,
	}
}

func initWatch(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	keep, err := ic.Keepalive()
	if err != nil {
		return nil, err
	}
	b, err := ic.Bridge()
	if err != nil {
		return nil, err
	}
	return &WatchModule{
		caps:    caps,
		keep:    keep,
		bridge:  b,
		base:    ic.App().Dir,
		logger:  extLogger(ic, "watch"),
		watches: make(map[int64]*fileWatch),
	}, nil
}

// WatchModule implements hearth.watch. Each watch owns an fsnotify watcher
// and reports changes as fs_changed events on source "watch.<id>". A live
// watch keeps the run-loop alive.
type WatchModule struct {
	caps   *capability.Set
	keep   *extension.Keepalive
	bridge *bridge.Bridge
	base   string
	logger *slog.Logger

	mu      sync.Mutex
	watches map[int64]*fileWatch
}

type fileWatch struct {
	id      int64
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
}

// Ops implements extension.State.
func (m *WatchModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "start", Sync: m.start},
		{Name: "stop", Sync: m.stop},
	}
}

// Close stops every watch.
func (m *WatchModule) Close() error {
	m.mu.Lock()
	watches := m.watches
	m.watches = make(map[int64]*fileWatch)
	m.mu.Unlock()

	var errs []error
	for _, w := range watches {
		errs = append(errs, w.stop())
	}
	return errors.Join(errs...)
}

// start(path, {recursive=false}) -> watch id
func (m *WatchModule) start(c *extension.Call) (any, error) {
	p, err := c.String(0)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	resolved := resolvePath(p, m.caps.HomeDir(), m.base)
	if err := requirePath(m.caps, capability.ClassFSRead, resolved); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch.start: %w", err)
	}
	root := filepath.FromSlash(resolved)
	if err := addPaths(watcher, root, extension.BoolField(opts, "recursive", false)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch.start: %w", err)
	}

	ctx, cancel := context.WithCancel(callContext(c))
	w := &fileWatch{
		id:      nextHandle(),
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
		release: m.keep.Acquire(),
	}
	m.mu.Lock()
	m.watches[w.id] = w
	m.mu.Unlock()

	go m.forward(ctx, w)
	m.logger.Debug("watch started", "watch", w.id, "path", resolved)
	return w.id, nil
}

// stop(id)
func (m *WatchModule) stop(c *extension.Call) (any, error) {
	id, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	w, ok := m.watches[id]
	delete(m.watches, id)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("watch.stop: watch %d: %w", id, bridge.ErrInvalidHandle)
	}
	return nil, w.stop()
}

func (w *fileWatch) stop() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.release()
	return err
}

// forward moves watcher events into the bridge until the watch stops.
func (m *WatchModule) forward(ctx context.Context, w *fileWatch) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			changed := bridge.FileChanged{
				Watch: w.id,
				Path:  filepath.ToSlash(ev.Name),
				Op:    strings.ToLower(ev.Op.String()),
			}
			if err := m.bridge.Emit(ctx, changed); err != nil {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", "watch", w.id, "error", err)
		}
	}
}

func addPaths(w *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
