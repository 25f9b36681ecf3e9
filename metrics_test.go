package reactorcore

import "testing"

func TestMetricsRecordTickAccumulates(t *testing.T) {
	m := newMetrics()
	m.recordTick(1000, 2, 5)
	m.recordTick(2000, 0, 3)

	snap := m.Snapshot()
	if snap.Ticks != 2 {
		t.Fatalf("expected 2 ticks, got %d", snap.Ticks)
	}
	if snap.TasksExecuted != 8 {
		t.Fatalf("expected 8 tasks executed, got %d", snap.TasksExecuted)
	}
	if snap.Dispatches != 2 {
		t.Fatalf("expected 2 dispatches, got %d", snap.Dispatches)
	}
}

func TestMetricsRecordRebuildIncrements(t *testing.T) {
	m := newMetrics()
	m.recordRebuild()
	m.recordRebuild()
	if snap := m.Snapshot(); snap.Rebuilds != 2 {
		t.Fatalf("expected 2 rebuilds, got %d", snap.Rebuilds)
	}
}

func TestAggregateMetricsSumsAndAveragesLatency(t *testing.T) {
	a := MetricsSnapshot{Ticks: 10, TasksExecuted: 5, Dispatches: 3, Rebuilds: 1, Registrations: 2, TickLatencyP50: 100, TickLatencyP99: 200}
	b := MetricsSnapshot{Ticks: 20, TasksExecuted: 7, Dispatches: 1, Rebuilds: 0, Registrations: 4, TickLatencyP50: 300, TickLatencyP99: 400}

	agg := aggregateMetrics([]MetricsSnapshot{a, b})
	if agg.Ticks != 30 || agg.TasksExecuted != 12 || agg.Dispatches != 4 || agg.Rebuilds != 1 || agg.Registrations != 6 {
		t.Fatalf("unexpected aggregate sums: %+v", agg)
	}
	if agg.TickLatencyP50 != 200 || agg.TickLatencyP99 != 300 {
		t.Fatalf("expected averaged latencies 200/300, got %v/%v", agg.TickLatencyP50, agg.TickLatencyP99)
	}
}

func TestAggregateMetricsEmptyIsZeroValue(t *testing.T) {
	agg := aggregateMetrics(nil)
	if agg != (MetricsSnapshot{}) {
		t.Fatalf("expected zero value for empty input, got %+v", agg)
	}
}
