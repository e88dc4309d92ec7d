package bridge

import (
	"context"
	"errors"
	"sync"
)

// Subscription is an ordered stream of events routed to one consumer.
type Subscription struct {
	id      int64
	pattern string
	filter  func(Event) bool
	bridge  *Bridge
	notify  chan struct{}
	limit   int

	mu     sync.Mutex
	queue  []Event
	closed bool
}

// ID returns the subscription id.
func (s *Subscription) ID() int64 {
	return s.id
}

// Pattern returns the source pattern.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// full reports whether the queue holds limit events. A closed
// subscription is never full.
func (s *Subscription) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.queue) >= s.limit
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest queued event.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	ev := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return ev, true
}

// TryRecv is TryNext with an untyped result.
func (s *Subscription) TryRecv() (any, bool) {
	ev, ok := s.TryNext()
	if !ok {
		return nil, false
	}
	return ev, true
}

// Next blocks until an event is queued, the subscription closes, or ctx is
// done. Events still queued at close are returned before ErrClosed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.TryNext(); ok {
			return ev, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		select {
		case <-s.notify:
		case <-s.bridge.done:
			// Drain anything delivered before shutdown.
			if ev, ok := s.TryNext(); ok {
				return ev, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether the subscription no longer receives events.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops delivery. Queued events remain readable.
func (s *Subscription) Close() {
	s.bridge.unsubscribe(s.id)
	s.markClosed()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Submission enqueues a command without ever blocking the caller. While the
// command channel is full each Poll retries; once enqueued, Poll reports the
// response. It is meant to be polled from a cooperative scheduler that must
// not block.
type Submission struct {
	bridge *Bridge
	cmd    Command
	oneWay bool

	future *Future
	err    error
	sent   bool
}

// Submit returns a Submission for a request expecting a response. The
// first enqueue attempt happens immediately.
func (b *Bridge) Submit(cmd Command) *Submission {
	s := &Submission{bridge: b, cmd: cmd}
	s.attempt()
	return s
}

// SubmitOneWay is Submit for fire-and-forget commands.
func (b *Bridge) SubmitOneWay(cmd Command) *Submission {
	s := &Submission{bridge: b, cmd: cmd, oneWay: true}
	s.attempt()
	return s
}

func (s *Submission) attempt() {
	if s.sent || s.err != nil {
		return
	}
	if s.oneWay {
		err := s.bridge.TrySend(s.cmd)
		switch {
		case err == nil:
			s.sent = true
		case !errors.Is(err, ErrFull):
			s.err = err
		}
		return
	}
	f, err := s.bridge.TryRequest(s.cmd)
	switch {
	case err == nil:
		s.future = f
		s.sent = true
	case !errors.Is(err, ErrFull):
		s.err = err
	}
}

// Enqueued reports whether the command made it into the channel.
func (s *Submission) Enqueued() bool {
	return s.sent
}

// Poll implements the cooperative poller contract.
func (s *Submission) Poll() (done bool, value any, err error) {
	s.attempt()
	if s.err != nil {
		return true, nil, s.err
	}
	if !s.sent {
		return false, nil, nil
	}
	if s.oneWay {
		return true, nil, nil
	}
	return s.future.Poll()
}
