package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks run-loop counters. Every method is safe for concurrent use.
type Metrics struct {
	// Iteration timing
	iterations  atomic.Uint64
	iterTotalNs atomic.Int64
	iterMinNs   atomic.Int64
	iterMaxNs   atomic.Int64
	lastIterNs  atomic.Int64

	// Bridge traffic
	commands       atomic.Uint64
	commandErrors  atomic.Uint64
	events         atomic.Uint64
	eventsDeferred atomic.Uint64

	// Script scheduling
	resumed atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	// Initialize min to max int64 so the first iteration is smaller
	m.iterMinNs.Store(1<<63 - 1)
	return m
}

// RecordIteration records the duration of one loop iteration.
func (m *Metrics) RecordIteration(d time.Duration) {
	ns := d.Nanoseconds()

	m.iterations.Add(1)
	m.iterTotalNs.Add(ns)
	m.lastIterNs.Store(ns)

	for {
		old := m.iterMinNs.Load()
		if ns >= old || m.iterMinNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.iterMaxNs.Load()
		if ns <= old || m.iterMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCommand records one executed command and whether it failed.
func (m *Metrics) RecordCommand(failed bool) {
	m.commands.Add(1)
	if failed {
		m.commandErrors.Add(1)
	}
}

// RecordEvents records n events forwarded into the bridge and the number
// left queued because the event channel was full.
func (m *Metrics) RecordEvents(n, deferred int) {
	m.events.Add(uint64(n))
	if deferred > 0 {
		m.eventsDeferred.Add(uint64(deferred))
	}
}

// RecordResumed records n task resumptions from one pump.
func (m *Metrics) RecordResumed(n int) {
	m.resumed.Add(uint64(n))
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	iterations := m.iterations.Load()

	var avg int64
	if iterations > 0 {
		avg = m.iterTotalNs.Load() / int64(iterations)
	}
	minNs := m.iterMinNs.Load()
	if minNs == 1<<63-1 {
		minNs = 0
	}

	return MetricsSnapshot{
		Uptime:          time.Since(m.startTime),
		Iterations:      iterations,
		AvgIterationNs:  avg,
		MinIterationNs:  minNs,
		MaxIterationNs:  m.iterMaxNs.Load(),
		LastIterationNs: m.lastIterNs.Load(),
		Commands:        m.commands.Load(),
		CommandErrors:   m.commandErrors.Load(),
		Events:          m.events.Load(),
		EventsDeferred:  m.eventsDeferred.Load(),
		Resumed:         m.resumed.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime          time.Duration
	Iterations      uint64
	AvgIterationNs  int64
	MinIterationNs  int64
	MaxIterationNs  int64
	LastIterationNs int64
	Commands        uint64
	CommandErrors   uint64
	Events          uint64
	EventsDeferred  uint64
	Resumed         uint64
}

// IterationsPerSecond returns the average loop rate.
func (s MetricsSnapshot) IterationsPerSecond() float64 {
	if s.AvgIterationNs == 0 {
		return 0
	}
	return 1e9 / float64(s.AvgIterationNs)
}

// CommandErrorRate returns the percentage of failed commands.
func (s MetricsSnapshot) CommandErrorRate() float64 {
	if s.Commands == 0 {
		return 0
	}
	return float64(s.CommandErrors) / float64(s.Commands) * 100
}
