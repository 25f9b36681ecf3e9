package reactorcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Chooser picks the next [Loop] in a [Group] to hand work to. Implementations
// are called from arbitrary goroutines and must be safe for concurrent use.
type Chooser interface {
	Next() *Loop
}

// loopSeeder is implemented by choosers (including the default) that need
// the group's actual loop slice, which a [WithChooserFactory] factory does
// not receive (it is only given the loop count).
type loopSeeder interface {
	seed(loops []*Loop)
}

// roundRobinChooser cycles through a fixed slice of loops. When the slice
// length is a power of two the modulus collapses to a mask, which is the
// common case (callers are encouraged to size groups to a power of two for
// exactly this reason), but it falls back to a plain modulus otherwise.
type roundRobinChooser struct {
	loops []*Loop
	next  atomic.Uint64
	mask  uint64
	pow2  bool
}

// newRoundRobinChooser is the default [WithChooserFactory] factory. It
// returns an empty chooser; [Group]'s constructor seeds it with the real
// loop slice via loopSeeder once every loop has been constructed.
func newRoundRobinChooser(n int) Chooser {
	return &roundRobinChooser{}
}

func (c *roundRobinChooser) seed(loops []*Loop) {
	c.loops = loops
	n := uint64(len(loops))
	if n != 0 && n&(n-1) == 0 {
		c.pow2 = true
		c.mask = n - 1
	}
}

func (c *roundRobinChooser) Next() *Loop {
	if len(c.loops) == 0 {
		return nil
	}
	i := c.next.Add(1) - 1
	if c.pow2 {
		return c.loops[i&c.mask]
	}
	return c.loops[i%uint64(len(c.loops))]
}

// Group owns a fixed, ordered set of [Loop]s and distributes registrations
// and submissions across them via a [Chooser]. Construction is all-or-
// nothing: if any loop fails to be constructed, every loop already created is torn
// down before the error is returned.
type Group struct {
	loops   []*Loop
	chooser Chooser
	cfg     *config

	termination *Promise
}

// NewGroup constructs a Group of n loops, sharing the options resolved from
// opts. n must be positive.
func NewGroup(n int, opts ...Option) (*Group, error) {
	if n <= 0 {
		return nil, ErrInvalidThreadCount
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	loops := make([]*Loop, 0, n)
	for i := 0; i < n; i++ {
		l, err := newLoopWithConfig(cfg)
		if err != nil {
			for _, created := range loops {
				_ = created.ShutdownGracefully(0, 0).Sync(context.Background())
			}
			return nil, err
		}
		loops = append(loops, l)
	}

	chooser := cfg.chooserFactory(n)
	if seeder, ok := chooser.(loopSeeder); ok {
		seeder.seed(loops)
	}

	g := &Group{
		loops:       loops,
		chooser:     chooser,
		cfg:         cfg,
		termination: NewPromise(nil),
	}
	g.wireTermination()
	return g, nil
}

// wireTermination completes g.termination once every member loop's own
// Termination future has fired.
func (g *Group) wireTermination() {
	var remaining sync.WaitGroup
	remaining.Add(len(g.loops))
	done := make(chan struct{})
	for _, l := range g.loops {
		l.Termination().AddListener(func(*Future) { remaining.Done() })
	}
	go func() {
		remaining.Wait()
		close(done)
	}()
	go func() {
		<-done
		g.termination.TrySuccess(nil)
	}()
}

// Loops returns the group's member loops, in construction order. The
// returned slice must not be mutated.
func (g *Group) Loops() []*Loop { return g.loops }

// Next returns the loop selected by the group's [Chooser] for the next
// piece of work.
func (g *Group) Next() *Loop { return g.chooser.Next() }

// Register binds fd to the next chosen loop. Equivalent to
// g.Next().Register(fd, ops, attachment).
func (g *Group) Register(fd int, ops IOEvents, attachment any) (*Registration, error) {
	return g.Next().Register(fd, ops, attachment)
}

// Submit runs fn on the next chosen loop.
func (g *Group) Submit(fn func() (Result, error)) *Future {
	return g.Next().Submit(fn)
}

// Schedule runs fn after delay on the next chosen loop.
func (g *Group) Schedule(delay time.Duration, fn func() (Result, error)) *ScheduledFuture {
	return g.Next().Schedule(delay, fn)
}

// Termination returns a [Future] completed once every loop in the group has
// terminated.
func (g *Group) Termination() *Future { return g.termination.Future }

// ShutdownGracefully requests a graceful shutdown of every loop in the
// group and returns a [Future] completed once all of them have terminated.
func (g *Group) ShutdownGracefully(quietPeriod, timeout time.Duration) *Future {
	for _, l := range g.loops {
		l.ShutdownGracefully(quietPeriod, timeout)
	}
	return g.termination.Future
}

// Metrics aggregates per-loop counters across the whole group. Returns the
// zero value if metrics were not enabled via [WithMetrics].
func (g *Group) Metrics() MetricsSnapshot {
	if !g.cfg.metricsEnabled {
		return MetricsSnapshot{}
	}
	snapshots := make([]MetricsSnapshot, len(g.loops))
	for i, l := range g.loops {
		snapshots[i] = l.Metrics()
	}
	return aggregateMetrics(snapshots)
}
