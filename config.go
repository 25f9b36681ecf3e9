package reactorcore

import "time"

// config holds the resolved, immutable knobs for a [Group] and its [Loop]s.
type config struct {
	disableKeySetOptimization bool
	selectorRebuildThreshold  int
	ioRatio                   int
	defaultMaxPendingTasks    int
	threadFactory             func(run func())
	chooserFactory            func(n int) Chooser
	metricsEnabled            bool
	rebuildWarnLimiter        *rateLimiter
	loopErrorLimiter          *rateLimiter
}

// Option configures a [Group] (and, transitively, every [Loop] it creates).
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithDisableKeySetOptimization turns off the append-only readiness-set
// array in favor of each notifier's native keyed set. Off (optimization
// enabled) by default.
func WithDisableKeySetOptimization(disabled bool) Option {
	return optionFunc(func(c *config) error {
		c.disableKeySetOptimization = disabled
		return nil
	})
}

// WithSelectorAutoRebuildThreshold sets the number of consecutive spurious
// wakeups (select_cnt) that trigger a notifier rebuild. Default 512, floor
// 3; 0 disables the rebuild entirely.
func WithSelectorAutoRebuildThreshold(n int) Option {
	return optionFunc(func(c *config) error {
		if n != 0 && n < 3 {
			n = 3
		}
		c.selectorRebuildThreshold = n
		return nil
	})
}

// WithIORatio sets the percentage of each iteration's time budget spent on
// I/O dispatch versus task draining, 1..=100. Default 50.
func WithIORatio(ratio int) Option {
	return optionFunc(func(c *config) error {
		if ratio < 1 || ratio > 100 {
			return ErrInvalidIORatio
		}
		c.ioRatio = ratio
		return nil
	})
}

// WithDefaultMaxPendingTasks sets the default task-queue capacity for loops
// created by the group. 0 (the default) means effectively unlimited.
func WithDefaultMaxPendingTasks(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 0 {
			n = 0
		}
		c.defaultMaxPendingTasks = n
		return nil
	})
}

// WithThreadFactory overrides how a loop's backing goroutine is started.
// Defaults to a plain `go run()`. Mainly useful for tests that want to pin
// or instrument the goroutine.
func WithThreadFactory(factory func(run func())) Option {
	return optionFunc(func(c *config) error {
		if factory != nil {
			c.threadFactory = factory
		}
		return nil
	})
}

// WithChooserFactory overrides how a [Group] builds its [Chooser]. Defaults
// to the power-of-two-masked round robin in group.go.
func WithChooserFactory(factory func(n int) Chooser) Option {
	return optionFunc(func(c *config) error {
		if factory != nil {
			c.chooserFactory = factory
		}
		return nil
	})
}

// WithMetrics enables per-loop tick/dispatch/rebuild counters and p50/p99
// tick-latency estimation. Off by default.
func WithMetrics(enabled bool) Option {
	return optionFunc(func(c *config) error {
		c.metricsEnabled = enabled
		return nil
	})
}

func resolveConfig(opts []Option) (*config, error) {
	c := &config{
		selectorRebuildThreshold: 512,
		ioRatio:                  50,
		threadFactory:            func(run func()) { go run() },
		chooserFactory:           newRoundRobinChooser,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}
	c.rebuildWarnLimiter = newRateLimiter(map[time.Duration]int{
		time.Second: 1,
		time.Minute: 20,
	})
	c.loopErrorLimiter = newRateLimiter(map[time.Duration]int{
		time.Second: 1,
		time.Minute: 20,
	})
	return c, nil
}
