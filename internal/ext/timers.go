package ext

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/hearth/internal/extension"
)

// TimeoutValue is what timers.timeout resolves with.
const TimeoutValue = "timeout"

func timersDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "timers",
		Tier:     extension.SimpleState,
		Required: true,
		Ops:      []string{"now", "sleep", "timeout"},
		Init: func(context.Context, *extension.InitContext) (extension.State, error) {
			return &TimersModule{now: time.Now}, nil
		},
	}
}

// TimersModule implements hearth.timers. Timers need no goroutine: the
// poller compares the clock each pump.
type TimersModule struct {
	now func() time.Time
}

// Ops implements extension.State.
func (m *TimersModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "now", Sync: m.nowMillis},
		{Name: "sleep", Async: m.sleep},
		{Name: "timeout", Async: m.timeout},
	}
}

// now() -> milliseconds since the Unix epoch
func (m *TimersModule) nowMillis(*extension.Call) (any, error) {
	return m.now().UnixMilli(), nil
}

// sleep(ms) -> nil, after at least ms milliseconds
func (m *TimersModule) sleep(c *extension.Call) (extension.Poller, error) {
	return m.after(c, nil)
}

// timeout(ms) -> "timeout", after at least ms milliseconds
func (m *TimersModule) timeout(c *extension.Call) (extension.Poller, error) {
	return m.after(c, TimeoutValue)
}

func (m *TimersModule) after(c *extension.Call, value any) (extension.Poller, error) {
	ms, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, errors.New(c.Op + ": negative duration")
	}
	deadline := m.now().Add(time.Duration(ms) * time.Millisecond)
	return extension.PollFunc(func() (bool, any, error) {
		if m.now().Before(deadline) {
			return false, nil, nil
		}
		return true, value, nil
	}), nil
}
