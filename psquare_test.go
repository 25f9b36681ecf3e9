package reactorcore

import "testing"

func TestPSquareQuantileMedianOfUniformSamples(t *testing.T) {
	q := newPSquareQuantile(0.5)
	for i := 1; i <= 1000; i++ {
		q.Update(float64(i))
	}
	got := q.Quantile()
	if got < 450 || got > 550 {
		t.Fatalf("expected median near 500, got %v", got)
	}
	if q.Count() != 1000 {
		t.Fatalf("expected count 1000, got %d", q.Count())
	}
}

func TestPSquareQuantileFewSamplesUsesExactSort(t *testing.T) {
	q := newPSquareQuantile(0.5)
	q.Update(3)
	q.Update(1)
	q.Update(2)
	if got := q.Quantile(); got != 2 {
		t.Fatalf("expected exact median 2 for 3 samples, got %v", got)
	}
}

func TestPSquareQuantileEmptyIsZero(t *testing.T) {
	q := newPSquareQuantile(0.99)
	if got := q.Quantile(); got != 0 {
		t.Fatalf("expected 0 for no observations, got %v", got)
	}
}

func TestPSquareMultiQuantileTracksMeanAndCount(t *testing.T) {
	m := newPSquareMultiQuantile(0.5, 0.99)
	for i := 1; i <= 10; i++ {
		m.Update(float64(i))
	}
	if m.Count() != 10 {
		t.Fatalf("expected count 10, got %d", m.Count())
	}
	if mean := m.Mean(); mean != 5.5 {
		t.Fatalf("expected mean 5.5, got %v", mean)
	}
	if p50 := m.Quantile(0); p50 <= 0 {
		t.Fatalf("expected nonzero p50 estimate, got %v", p50)
	}
}

func TestPSquareMultiQuantileOutOfRangeIndexIsZero(t *testing.T) {
	m := newPSquareMultiQuantile(0.5)
	m.Update(1)
	if got := m.Quantile(5); got != 0 {
		t.Fatalf("expected 0 for out-of-range index, got %v", got)
	}
}
