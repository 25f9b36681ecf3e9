package reactorcore

import (
	"sync"
	"sync/atomic"
)

// Metrics holds runtime counters for one [Loop], updated on the loop thread
// and readable from any goroutine via the Snapshot method. Enabled with
// [WithMetrics]; a Loop constructed without it has a nil *Metrics and pays
// no bookkeeping cost.
type Metrics struct {
	ticks         atomic.Uint64
	tasksExecuted atomic.Uint64
	dispatches    atomic.Uint64
	rebuilds      atomic.Uint64
	registrations atomic.Int64

	mu      sync.Mutex
	latency *pSquareMultiQuantile // [0]=p50, [1]=p99, nanoseconds
}

func newMetrics() *Metrics {
	return &Metrics{latency: newPSquareMultiQuantile(0.50, 0.99)}
}

func (m *Metrics) recordTick(elapsedNanos int64, dispatched, drained int) {
	m.ticks.Add(1)
	m.tasksExecuted.Add(uint64(drained))
	if dispatched > 0 {
		m.dispatches.Add(uint64(dispatched))
	}
	m.mu.Lock()
	m.latency.Update(float64(elapsedNanos))
	m.mu.Unlock()
}

func (m *Metrics) recordRebuild() { m.rebuilds.Add(1) }

// MetricsSnapshot is a point-in-time copy of a [Loop]'s or [Group]'s
// counters.
type MetricsSnapshot struct {
	Ticks           uint64
	TasksExecuted   uint64
	Dispatches      uint64
	Rebuilds        uint64
	Registrations   int64
	TickLatencyP50  float64
	TickLatencyP99  float64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	p50, p99 := m.latency.Quantile(0), m.latency.Quantile(1)
	m.mu.Unlock()
	return MetricsSnapshot{
		Ticks:          m.ticks.Load(),
		TasksExecuted:  m.tasksExecuted.Load(),
		Dispatches:     m.dispatches.Load(),
		Rebuilds:       m.rebuilds.Load(),
		Registrations:  m.registrations.Load(),
		TickLatencyP50: p50,
		TickLatencyP99: p99,
	}
}

// aggregateMetrics sums per-loop snapshots for [Group.Metrics]. Latency
// percentiles are averaged rather than re-estimated from the per-loop
// estimators, since the underlying samples aren't retained.
func aggregateMetrics(snapshots []MetricsSnapshot) MetricsSnapshot {
	var agg MetricsSnapshot
	if len(snapshots) == 0 {
		return agg
	}
	var p50Sum, p99Sum float64
	for _, s := range snapshots {
		agg.Ticks += s.Ticks
		agg.TasksExecuted += s.TasksExecuted
		agg.Dispatches += s.Dispatches
		agg.Rebuilds += s.Rebuilds
		agg.Registrations += s.Registrations
		p50Sum += s.TickLatencyP50
		p99Sum += s.TickLatencyP99
	}
	n := float64(len(snapshots))
	agg.TickLatencyP50 = p50Sum / n
	agg.TickLatencyP99 = p99Sum / n
	return agg
}
