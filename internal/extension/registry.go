package extension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State is what an extension's Init produces. It supplies the
// implementation of every declared operation. States that hold resources
// also implement io.Closer.
type State interface {
	Ops() []Op
}

// InitFunc builds an extension's state.
type InitFunc func(ctx context.Context, ic *InitContext) (State, error)

// Descriptor statically describes one compiled-in extension.
type Descriptor struct {
	Name     string
	Tier     Tier
	Required bool

	// Ops lists the operation names, unqualified. Init must return a state
	// implementing exactly these.
	Ops []string

	Init InitFunc
}

// Qualified returns the script-visible name of op.
func (d Descriptor) Qualified(op string) string {
	return d.Name + "." + op
}

// Option configures a Registry.
type Option func(*Registry)

// WithParallelTiers initializes extensions of the same tier concurrently.
func WithParallelTiers(enabled bool) Option {
	return func(r *Registry) {
		r.parallel = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDisabled skips the named optional extensions. Their operations
// report ErrUnavailable.
func WithDisabled(names ...string) Option {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = true
		}
	}
}

// Registry holds the compiled-in descriptors. It is built once and consumed
// once by InitAll.
type Registry struct {
	mu          sync.Mutex
	descs       []Descriptor
	names       map[string]bool
	disabled    map[string]bool
	parallel    bool
	logger      *slog.Logger
	initialized bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		names:    make(map[string]bool),
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a descriptor.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case d.Name == "":
		return errors.New("extension: descriptor has no name")
	case !d.Tier.Valid():
		return fmt.Errorf("extension %s: invalid tier %d", d.Name, int(d.Tier))
	case d.Init == nil:
		return fmt.Errorf("extension %s: no init function", d.Name)
	case r.names[d.Name]:
		return fmt.Errorf("extension %s: %w", d.Name, ErrDuplicate)
	}
	r.names[d.Name] = true
	r.descs = append(r.descs, d)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(descs ...Descriptor) {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Descriptors returns the descriptors in initialization order: by tier,
// registration order within a tier.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// InitAll initializes every extension tier by tier. Before each tier the
// builder makes that tier's resources available. A failing required
// extension aborts with *InitError after closing the states already built;
// a failing optional extension is logged and marked unavailable.
func (r *Registry) InitAll(ctx context.Context, ic *InitContext, builder ContextBuilder) (*StateTable, error) {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	r.initialized = true
	r.mu.Unlock()

	ordered := r.Descriptors()
	table := &StateTable{}

	for _, tier := range Tiers {
		ic.tier = tier
		if builder != nil {
			if err := builder.Prepare(ctx, ic, tier); err != nil {
				table.Close()
				return nil, &InitError{Extension: "context", Tier: tier, Err: err}
			}
		}

		var group []Descriptor
		for _, d := range ordered {
			if d.Tier == tier {
				group = append(group, d)
			}
		}
		if len(group) == 0 {
			continue
		}

		entries := r.initTier(ctx, ic, group)
		var failure error
		for _, e := range entries {
			table.entries = append(table.entries, e)
			if e.Err == nil {
				continue
			}
			if e.Descriptor.Required {
				if failure == nil {
					failure = &InitError{Extension: e.Descriptor.Name, Tier: tier, Err: e.Err}
				}
				continue
			}
			r.logger.Warn("optional extension unavailable",
				"ext", e.Descriptor.Name, "tier", tier.String(), "error", e.Err)
		}
		if failure != nil {
			table.Close()
			return nil, failure
		}
	}
	return table, nil
}

func (r *Registry) initTier(ctx context.Context, ic *InitContext, group []Descriptor) []*Entry {
	entries := make([]*Entry, len(group))
	for i, d := range group {
		entries[i] = &Entry{Descriptor: d}
	}

	if !r.parallel || len(group) == 1 {
		for _, e := range entries {
			r.initOne(ctx, ic, e)
		}
		return entries
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			r.initOne(gctx, ic, e)
			if e.Err != nil && e.Descriptor.Required {
				return e.Err
			}
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

func (r *Registry) initOne(ctx context.Context, ic *InitContext, e *Entry) {
	d := e.Descriptor
	if r.disabled[d.Name] {
		if d.Required {
			e.Err = errors.New("required extension cannot be disabled")
		} else {
			e.Err = errors.New("disabled by manifest")
		}
		return
	}

	state, err := safeInit(ctx, ic, d)
	if err != nil {
		e.Err = err
		return
	}
	if err := checkOps(d, state); err != nil {
		closeState(state)
		e.Err = err
		return
	}
	e.State = state
	e.Available = true
	r.logger.Debug("extension initialized", "ext", d.Name, "tier", d.Tier.String())
}

func safeInit(ctx context.Context, ic *InitContext, d Descriptor) (state State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during init: %v", rec)
		}
	}()
	state, err = d.Init(ctx, ic)
	if err == nil && state == nil {
		err = errors.New("init returned no state")
	}
	return state, err
}

func checkOps(d Descriptor, state State) error {
	declared := make(map[string]bool, len(d.Ops))
	for _, name := range d.Ops {
		declared[name] = false
	}
	for _, op := range state.Ops() {
		seen, ok := declared[op.Name]
		if !ok {
			return fmt.Errorf("op %q is not declared", op.Name)
		}
		if seen {
			return fmt.Errorf("op %q implemented twice", op.Name)
		}
		if (op.Sync == nil) == (op.Async == nil) {
			return fmt.Errorf("op %q must set exactly one of Sync and Async", op.Name)
		}
		declared[op.Name] = true
	}
	for name, seen := range declared {
		if !seen {
			return fmt.Errorf("declared op %q not implemented", name)
		}
	}
	return nil
}

func closeState(s State) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Entry is the outcome of one extension's initialization.
type Entry struct {
	Descriptor Descriptor
	State      State
	Available  bool
	Err        error
}

// Binding pairs a qualified operation name with its implementation.
type Binding struct {
	Extension string
	Name      string
	Op        Op
	Available bool
}

// StateTable holds initialized extension states in initialization order.
type StateTable struct {
	mu      sync.Mutex
	entries []*Entry
	closed  bool
}

// Entries returns every entry in initialization order.
func (t *StateTable) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Get returns the state of an available extension.
func (t *StateTable) Get(name string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Descriptor.Name == name && e.Available {
			return e.State, true
		}
	}
	return nil, false
}

// Bindings returns one binding per declared operation. Operations of
// unavailable extensions are bound to stubs returning ErrUnavailable.
func (t *StateTable) Bindings() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Binding
	for _, e := range t.entries {
		d := e.Descriptor
		if e.Available {
			for _, op := range e.State.Ops() {
				out = append(out, Binding{Extension: d.Name, Name: d.Qualified(op.Name), Op: op, Available: true})
			}
			continue
		}
		for _, name := range d.Ops {
			qualified := d.Qualified(name)
			out = append(out, Binding{
				Extension: d.Name,
				Name:      qualified,
				Op:        Op{Name: name, Sync: unavailable(qualified)},
			})
		}
	}
	return out
}

func unavailable(name string) SyncFunc {
	return func(*Call) (any, error) {
		return nil, fmt.Errorf("%s: %w", name, ErrUnavailable)
	}
}

// Close closes available states in reverse initialization order.
func (t *StateTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if !e.Available {
			continue
		}
		if err := closeState(e.State); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", e.Descriptor.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StateFunc adapts an op list to State.
type StateFunc func() []Op

// Ops calls f.
func (f StateFunc) Ops() []Op {
	return f()
}
