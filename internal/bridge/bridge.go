// Package bridge connects the script context to the native run-loop.
//
// Commands flow from scripts to the native side over a bounded channel;
// events flow back over another. Requests that expect exactly one response
// are correlated through a pending table of single-use futures, optionally
// keyed by an exclusive slot so that a new request supersedes an older one.
//
// Neither channel is ever closed. Close signals shutdown through a separate
// done channel and resolves every pending request with ErrShuttingDown.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultCapacity is the default size of each channel.
const DefaultCapacity = 256

// Option configures a Bridge.
type Option func(*Bridge)

// WithCapacity sets the channel capacity.
func WithCapacity(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

type pendingEntry struct {
	future *Future
	slot   string
}

// Bridge is the command/event channel pair plus the pending table.
type Bridge struct {
	capacity int
	newID    func() string
	logger   *slog.Logger

	commands chan Envelope
	events   chan Event
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[string]*pendingEntry
	slots   map[string]string

	subsMu  sync.Mutex
	subs    map[int64]*Subscription
	nextSub int64

	// held is an event read from the channel that a full subscription
	// could not take yet. Guarded by routeMu.
	routeMu sync.Mutex
	held    Event

	// Stats
	requested atomic.Uint64
	sent      atomic.Uint64
	responded atomic.Uint64
	cancelled atomic.Uint64
	emitted   atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		capacity: DefaultCapacity,
		newID:    uuid.NewString,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingEntry),
		slots:    make(map[string]string),
		subs:     make(map[int64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.commands = make(chan Envelope, b.capacity)
	b.events = make(chan Event, b.capacity)
	return b
}

// Capacity returns the size of each channel.
func (b *Bridge) Capacity() int {
	return b.capacity
}

// register installs a pending entry for cmd, superseding the current holder
// of its slot.
func (b *Bridge) register(cmd Command) (string, *Future, error) {
	id := b.newID()
	entry := &pendingEntry{future: NewFuture()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", nil, ErrClosed
	}
	if s, ok := cmd.(Slotted); ok {
		entry.slot = s.Slot()
		if oldID, held := b.slots[entry.slot]; held {
			if old, ok := b.pending[oldID]; ok {
				delete(b.pending, oldID)
				old.future.Resolve(nil, ErrCancelled)
				b.cancelled.Add(1)
			}
		}
		b.slots[entry.slot] = id
	}
	b.pending[id] = entry
	return id, entry.future, nil
}

// take removes and returns a pending entry.
func (b *Bridge) take(id string) (*pendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return nil, false
	}
	delete(b.pending, id)
	if entry.slot != "" && b.slots[entry.slot] == id {
		delete(b.slots, entry.slot)
	}
	return entry, true
}

// Request enqueues cmd and returns the future of its response. It blocks
// while the command channel is full.
func (b *Bridge) Request(ctx context.Context, cmd Command) (*Future, error) {
	id, f, err := b.register(cmd)
	if err != nil {
		return nil, err
	}
	select {
	case b.commands <- Envelope{ID: id, Command: cmd}:
		b.requested.Add(1)
		return f, nil
	case <-ctx.Done():
		b.abandon(id, ctx.Err())
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}
}

// TryRequest is Request without blocking. It returns ErrFull when the
// command channel is at capacity; no pending entry remains in that case.
func (b *Bridge) TryRequest(cmd Command) (*Future, error) {
	id, f, err := b.register(cmd)
	if err != nil {
		return nil, err
	}
	select {
	case b.commands <- Envelope{ID: id, Command: cmd}:
		b.requested.Add(1)
		return f, nil
	default:
		b.forget(id)
		return nil, ErrFull
	}
}

// Send enqueues a fire-and-forget command. It blocks while the command
// channel is full.
func (b *Bridge) Send(ctx context.Context, cmd Command) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.commands <- Envelope{Command: cmd}:
		b.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// TrySend is Send without blocking.
func (b *Bridge) TrySend(cmd Command) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.commands <- Envelope{Command: cmd}:
		b.sent.Add(1)
		return nil
	default:
		return ErrFull
	}
}

// abandon resolves and removes a pending entry.
func (b *Bridge) abandon(id string, err error) {
	if entry, ok := b.take(id); ok {
		entry.future.Resolve(nil, err)
	}
}

// forget removes a pending entry that was never delivered. A slot it
// superseded stays cancelled.
func (b *Bridge) forget(id string) {
	b.take(id)
}

// Commands is the receive side for the native run-loop.
func (b *Bridge) Commands() <-chan Envelope {
	return b.commands
}

// Respond resolves the request with the given id. Unknown ids (superseded,
// already answered, or never issued) are ignored and reported as false.
func (b *Bridge) Respond(id string, value any, err error) bool {
	entry, ok := b.take(id)
	if !ok {
		return false
	}
	b.responded.Add(1)
	return entry.future.Resolve(value, err)
}

// Pending returns the number of unresolved requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Emit publishes a native event. It blocks while the event channel is full.
func (b *Bridge) Emit(ctx context.Context, ev Event) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.events <- ev:
		b.emitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// TryEmit is Emit without blocking.
func (b *Bridge) TryEmit(ev Event) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.events <- ev:
		b.emitted.Add(1)
		return nil
	default:
		return ErrFull
	}
}

// Events is the raw receive side of the event channel. Consumers normally
// use Subscribe and Route instead.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Subscribe registers interest in events whose source matches pattern. The
// optional filter narrows delivery further. Each subscription queues at
// most Capacity events; a full one holds back routing.
func (b *Bridge) Subscribe(pattern string, filter func(Event) bool) *Subscription {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.nextSub++
	s := &Subscription{
		id:      b.nextSub,
		pattern: pattern,
		filter:  filter,
		bridge:  b,
		notify:  make(chan struct{}, 1),
		limit:   b.capacity,
	}
	if b.isClosed() {
		s.closed = true
		return s
	}
	b.subs[s.id] = s
	return s
}

func (b *Bridge) unsubscribe(id int64) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	delete(b.subs, id)
}

// Route drains the event channel without blocking and appends each event
// to every matching subscription. It returns the number of events read.
// Events no subscription wants are dropped. When a matching subscription
// is full, routing stops and the event is retried on the next call, so the
// event channel fills and Emit applies backpressure.
func (b *Bridge) Route() int {
	b.routeMu.Lock()
	defer b.routeMu.Unlock()

	n := 0
	for {
		if b.held == nil {
			select {
			case ev := <-b.events:
				n++
				b.held = ev
			default:
				return n
			}
		}
		if !b.deliver(b.held) {
			return n
		}
		b.held = nil
	}
}

// Held reports whether an event is waiting for a full subscription.
func (b *Bridge) Held() bool {
	b.routeMu.Lock()
	defer b.routeMu.Unlock()
	return b.held != nil
}

// deliver pushes ev to every matching subscription, or to none when one of
// them is full.
func (b *Bridge) deliver(ev Event) bool {
	b.subsMu.Lock()
	matched := make([]*Subscription, 0, 4)
	for _, s := range b.subs {
		if MatchSource(ev.Source(), s.pattern) && (s.filter == nil || s.filter(ev)) {
			matched = append(matched, s)
		}
	}
	b.subsMu.Unlock()

	if len(matched) == 0 {
		b.dropped.Add(1)
		b.logger.Debug("event dropped", "type", ev.Type(), "source", ev.Source())
		return true
	}
	for _, s := range matched {
		if s.full() {
			return false
		}
	}
	for _, s := range matched {
		s.push(ev)
	}
	return true
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Done is closed when the bridge shuts down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close shuts the bridge down. Every pending request resolves with
// ErrShuttingDown and every subscription is closed. Close is idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	pending := b.pending
	b.pending = make(map[string]*pendingEntry)
	b.slots = make(map[string]string)
	b.mu.Unlock()

	for _, entry := range pending {
		entry.future.Resolve(nil, ErrShuttingDown)
	}

	b.subsMu.Lock()
	subs := b.subs
	b.subs = make(map[int64]*Subscription)
	b.subsMu.Unlock()
	for _, s := range subs {
		s.markClosed()
	}
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Requested uint64
	Sent      uint64
	Responded uint64
	Cancelled uint64
	Emitted   uint64
	Dropped   uint64
	Pending   int
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Requested: b.requested.Load(),
		Sent:      b.sent.Load(),
		Responded: b.responded.Load(),
		Cancelled: b.cancelled.Load(),
		Emitted:   b.emitted.Load(),
		Dropped:   b.dropped.Load(),
		Pending:   b.Pending(),
	}
}
