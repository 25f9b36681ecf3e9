package reactorcore

import "testing"

func TestResolveConfigDefaults(t *testing.T) {
	cfg, err := resolveConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ioRatio != 50 {
		t.Fatalf("expected default io_ratio 50, got %d", cfg.ioRatio)
	}
	if cfg.selectorRebuildThreshold != 512 {
		t.Fatalf("expected default rebuild threshold 512, got %d", cfg.selectorRebuildThreshold)
	}
	if cfg.metricsEnabled {
		t.Fatal("expected metrics disabled by default")
	}
}

func TestWithIORatioRejectsOutOfRange(t *testing.T) {
	if _, err := resolveConfig([]Option{WithIORatio(0)}); err != ErrInvalidIORatio {
		t.Fatalf("expected ErrInvalidIORatio for 0, got %v", err)
	}
	if _, err := resolveConfig([]Option{WithIORatio(101)}); err != ErrInvalidIORatio {
		t.Fatalf("expected ErrInvalidIORatio for 101, got %v", err)
	}
	cfg, err := resolveConfig([]Option{WithIORatio(80)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ioRatio != 80 {
		t.Fatalf("expected io_ratio 80, got %d", cfg.ioRatio)
	}
}

func TestWithSelectorAutoRebuildThresholdFloorsAtThree(t *testing.T) {
	cfg, err := resolveConfig([]Option{WithSelectorAutoRebuildThreshold(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.selectorRebuildThreshold != 3 {
		t.Fatalf("expected floor of 3, got %d", cfg.selectorRebuildThreshold)
	}
}

func TestWithSelectorAutoRebuildThresholdZeroDisables(t *testing.T) {
	cfg, err := resolveConfig([]Option{WithSelectorAutoRebuildThreshold(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.selectorRebuildThreshold != 0 {
		t.Fatalf("expected 0 to disable rebuild, got %d", cfg.selectorRebuildThreshold)
	}
}

func TestWithDefaultMaxPendingTasksClampsNegative(t *testing.T) {
	cfg, err := resolveConfig([]Option{WithDefaultMaxPendingTasks(-5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.defaultMaxPendingTasks != 0 {
		t.Fatalf("expected negative capacity clamped to 0, got %d", cfg.defaultMaxPendingTasks)
	}
}
