package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("req-%d", n)
	}
}

func TestRequestRespond(t *testing.T) {
	b := New(WithIDGenerator(seqIDs()))
	defer b.Close()

	f, err := b.Request(context.Background(), CreateWindow{Label: "main"})
	require.NoError(t, err)

	env := <-b.Commands()
	assert.Equal(t, "req-1", env.ID)
	assert.True(t, env.ExpectsResponse())
	assert.Equal(t, CreateWindow{Label: "main"}, env.Command)

	done, _, _ := f.Poll()
	assert.False(t, done)

	assert.True(t, b.Respond(env.ID, WindowID(7), nil))
	done, v, err := f.Poll()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, WindowID(7), v)

	// A second response for the same id is ignored.
	assert.False(t, b.Respond(env.ID, WindowID(8), nil))
	assert.False(t, b.Respond("never-issued", nil, nil))
	assert.Zero(t, b.Pending())
}

func TestBackpressureWithoutLoss(t *testing.T) {
	const capacity = 4
	b := New(WithCapacity(capacity))
	defer b.Close()

	for i := 0; i < capacity; i++ {
		require.NoError(t, b.Send(context.Background(), SetStatus{Text: fmt.Sprint(i)}))
	}
	assert.ErrorIs(t, b.TrySend(SetStatus{Text: "overflow"}), ErrFull)

	sent := make(chan error, 1)
	go func() {
		sent <- b.Send(context.Background(), SetStatus{Text: fmt.Sprint(capacity)})
	}()

	select {
	case <-sent:
		t.Fatal("send beyond capacity did not block")
	case <-time.After(50 * time.Millisecond):
	}

	var got []string
	env := <-b.Commands()
	got = append(got, env.Command.(SetStatus).Text)
	require.NoError(t, <-sent)

	for i := 0; i < capacity; i++ {
		env := <-b.Commands()
		got = append(got, env.Command.(SetStatus).Text)
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)
}

func TestSendHonoursContext(t *testing.T) {
	b := New(WithCapacity(1))
	defer b.Close()
	require.NoError(t, b.TrySend(SetStatus{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Send(ctx, SetStatus{}), context.DeadlineExceeded)

	_, err := b.Request(ctx, ListWindows{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, b.Pending())
}

func TestExclusiveSlotCancellation(t *testing.T) {
	b := New(WithIDGenerator(seqIDs()))
	defer b.Close()
	ctx := context.Background()

	first, err := b.Request(ctx, ShowContextMenu{Window: 1, Items: []MenuItem{{ID: "a"}}})
	require.NoError(t, err)
	other, err := b.Request(ctx, ShowContextMenu{Window: 2})
	require.NoError(t, err)
	second, err := b.Request(ctx, ShowContextMenu{Window: 1, Items: []MenuItem{{ID: "b"}}})
	require.NoError(t, err)

	done, _, err := first.Poll()
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrCancelled)

	done, _, _ = other.Poll()
	assert.False(t, done, "other window's slot is independent")

	// The native side answers the superseded request late; it is ignored.
	assert.False(t, b.Respond("req-1", "a", nil))
	assert.True(t, b.Respond("req-3", "b", nil))

	done, v, err := second.Poll()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, uint64(1), b.Stats().Cancelled)
}

func TestCloseResolvesPending(t *testing.T) {
	b := New()
	ctx := context.Background()

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := b.Request(ctx, ShowDialog{Kind: DialogConfirm})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	f, err := b.Request(ctx, ListWindows{})
	require.NoError(t, err)
	futures = append(futures, f)

	b.Close()
	b.Close()

	// The first two dialogs were superseded, the rest shut down.
	for i, f := range futures {
		done, _, err := f.Poll()
		require.True(t, done, "future %d", i)
		if i < 2 {
			assert.ErrorIs(t, err, ErrCancelled)
		} else {
			assert.ErrorIs(t, err, ErrShuttingDown)
		}
	}

	_, err = b.Request(ctx, ListWindows{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.TrySend(SetStatus{}), ErrClosed)
	assert.ErrorIs(t, b.TryEmit(WindowClosed{Window: 1}), ErrClosed)
	assert.True(t, b.Subscribe("**", nil).Closed())
}

func TestRouteSubscriptions(t *testing.T) {
	b := New()
	defer b.Close()

	all := b.Subscribe("**", nil)
	w1 := b.Subscribe("window.1", nil)
	windows := b.Subscribe("window.*", nil)
	ipc := b.Subscribe("window.*", func(ev Event) bool {
		m, ok := ev.(IPCMessage)
		return ok && m.Channel == "save"
	})

	events := []Event{
		WindowResized{Window: 1, Width: 80, Height: 24},
		IPCMessage{Window: 2, Channel: "save", Payload: "x"},
		FileChanged{Watch: 3, Path: "/tmp/a", Op: "WRITE"},
		WindowClosed{Window: 1},
	}
	for _, ev := range events {
		require.NoError(t, b.TryEmit(ev))
	}
	assert.Equal(t, 4, b.Route())
	assert.Equal(t, 0, b.Route())

	assert.Equal(t, 4, all.Len())
	assert.Equal(t, 3, windows.Len())
	assert.Equal(t, 1, ipc.Len())

	ev, ok := w1.TryNext()
	require.True(t, ok)
	assert.Equal(t, "resized", ev.Type())
	ev, ok = w1.TryNext()
	require.True(t, ok)
	assert.Equal(t, "closed", ev.Type())
	_, ok = w1.TryNext()
	assert.False(t, ok)

	w1.Close()
	require.NoError(t, b.TryEmit(WindowClosed{Window: 1}))
	b.Route()
	assert.Equal(t, 0, w1.Len())
	assert.True(t, w1.Closed())
}

func TestRouteBackpressure(t *testing.T) {
	const capacity = 2
	b := New(WithCapacity(capacity))
	defer b.Close()
	slow := b.Subscribe("window.*", nil)
	other := b.Subscribe("**", nil)

	emitted := 0
	for i := 0; i < 1000; i++ {
		if b.TryEmit(WindowResized{Window: 1, Width: i}) != nil {
			break
		}
		emitted++
		b.Route()
	}
	assert.Less(t, emitted, 1000, "a full subscription stops the event channel")
	assert.Equal(t, capacity, slow.Len())
	assert.Equal(t, capacity, other.Len(), "no subscription gets ahead of the others")
	assert.True(t, b.Held())
	assert.ErrorIs(t, b.TryEmit(WindowClosed{Window: 1}), ErrFull)

	var widths []int
	for len(widths) < emitted {
		ev, ok := slow.TryNext()
		require.True(t, ok, "event lost after %d", len(widths))
		widths = append(widths, ev.(WindowResized).Width)
		for other.Len() > 0 {
			other.TryNext()
		}
		b.Route()
	}
	for i, w := range widths {
		assert.Equal(t, i, w, "FIFO order")
	}
	assert.False(t, b.Held())
	assert.Equal(t, 0, slow.Len())
}

func TestRouteDropsUnwanted(t *testing.T) {
	b := New()
	defer b.Close()
	require.NoError(t, b.TryEmit(KeyPressed{Key: "q"}))
	b.Route()
	assert.Equal(t, uint64(1), b.Stats().Dropped)
}

func TestSubscriptionNext(t *testing.T) {
	b := New()
	sub := b.Subscribe("app", nil)

	go func() {
		_ = b.Emit(context.Background(), KeyPressed{Key: "enter"})
		b.Route()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app", ev.Source())

	b.Close()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmissionRetriesWhileFull(t *testing.T) {
	b := New(WithCapacity(1))
	defer b.Close()
	require.NoError(t, b.TrySend(SetStatus{Text: "blocker"}))

	s := b.Submit(ListWindows{})
	assert.False(t, s.Enqueued())
	done, _, err := s.Poll()
	assert.False(t, done)
	assert.NoError(t, err)
	assert.Zero(t, b.Pending(), "failed attempts leave no pending entry")

	<-b.Commands()
	done, _, _ = s.Poll()
	assert.False(t, done)
	assert.True(t, s.Enqueued())

	env := <-b.Commands()
	b.Respond(env.ID, []WindowInfo{}, nil)
	done, v, err := s.Poll()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Equal(t, []WindowInfo{}, v)

	oneWay := b.SubmitOneWay(SetStatus{Text: "ok"})
	done, _, err = oneWay.Poll()
	assert.True(t, done)
	assert.NoError(t, err)

	b.Close()
	closed := b.Submit(ListWindows{})
	done, _, err = closed.Poll()
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMatchSource(t *testing.T) {
	tests := []struct {
		source, pattern string
		want            bool
	}{
		{"window.1", "window.1", true},
		{"window.1", "window.*", true},
		{"window.1", "window", false},
		{"window", "window.*", false},
		{"window", "window.**", true},
		{"watch.4", "**", true},
		{"app", "window.*", false},
		{"a.b.c", "a.**.c", true},
		{"a.c", "a.**.c", true},
		{"a.b.c", "*.c", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchSource(tt.source, tt.pattern), "%s ~ %s", tt.source, tt.pattern)
	}
}

func TestFuture(t *testing.T) {
	f := NewFuture()
	assert.True(t, f.Resolve(1, nil))
	assert.False(t, f.Resolve(2, nil))
	v, err := f.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)

	g := Go(func() (any, error) { return "done", nil })
	v, err = g.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "done", v)

	h := NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventFields(t *testing.T) {
	m := IPCMessage{Window: 3, Channel: "c", Payload: 1}.Fields()
	assert.Equal(t, "ipc", m["type"])
	assert.Equal(t, "window.3", m["source"])
	assert.Equal(t, int64(3), m["window"])

	k := KeyPressed{Key: "esc"}.Fields()
	assert.Equal(t, "app", k["source"])
	_, hasWindow := k["window"]
	assert.False(t, hasWindow)

	assert.Equal(t, "menu:5", ShowContextMenu{Window: 5}.Slot())
	assert.Equal(t, "watch.9", FileChanged{Watch: 9}.Source())
}
