package reactorcore

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// cleanupInterval is the number of registration cancellations (within one
// loop) that accumulate before the dispatcher flushes stale entries from
// the notifier's internal set ahead of the next blocking wait.
const cleanupInterval = 256

var loopIDCounter atomic.Int64

// Loop is a single-threaded executor that doubles as a reactor once any
// resource is registered on it: one owned goroutine, one task queue, one
// scheduled-task heap, and (on Linux/Darwin) one OS readiness notifier.
// Registrations, their interest sets, and the notifier itself are owned
// exclusively by the loop's own goroutine; every other field that crosses
// goroutines is either atomic or behind the task queue's mutex.
type Loop struct {
	id  int64
	cfg *config

	state     *loopState
	wake      *wakeupState
	note      notifier
	ready     *keySet
	testHooks *loopTestHooks

	queue     *TaskQueue
	scheduled *scheduledQueue

	goroutineID atomic.Uint64
	startOnce   sync.Once
	doneCh      chan struct{}

	termination *Promise

	cancelledKeys int
	selectCnt     int
	selectAgain   bool

	shutdownRequested   atomic.Bool
	quietDeadline       atomic.Int64
	shutdownDeadlineAbs atomic.Int64

	metrics *Metrics
}

// NewLoop constructs and returns a single loop. Its goroutine is not
// started until the first [Loop.Execute], [Loop.Submit], [Loop.Schedule],
// or [Loop.Register] call.
func NewLoop(opts ...Option) (*Loop, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	return newLoopWithConfig(cfg)
}

func newLoopWithConfig(cfg *config) (*Loop, error) {
	note, err := newPlatformNotifier()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		id:        loopIDCounter.Add(1),
		cfg:       cfg,
		state:     newLoopState(),
		wake:      newWakeupState(),
		note:      note,
		ready:     newKeySet(cfg.disableKeySetOptimization),
		queue:     NewTaskQueue(cfg.defaultMaxPendingTasks),
		scheduled: newScheduledQueue(),
		doneCh:    make(chan struct{}),
	}
	l.termination = NewPromise(l)
	if cfg.metricsEnabled {
		l.metrics = newMetrics()
	}
	return l, nil
}

// ID returns the loop's identity, stable for its lifetime. Used as the
// category key for rate-limited log entries and as the LoopID in [LogEntry].
func (l *Loop) ID() int64 { return l.id }

// State returns the current lifecycle state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Metrics returns a snapshot of the loop's counters, or the zero value if
// metrics were not enabled via [WithMetrics].
func (l *Loop) Metrics() MetricsSnapshot {
	if l.metrics == nil {
		return MetricsSnapshot{}
	}
	return l.metrics.Snapshot()
}

// Termination returns a [Future] completed when the loop's goroutine exits.
func (l *Loop) Termination() *Future { return l.termination.Future }

// InEventLoop reports whether the calling goroutine is this loop's own.
func (l *Loop) InEventLoop() bool { return l.isLoopThread() }

func (l *Loop) isLoopThread() bool {
	id := l.goroutineID.Load()
	return id != 0 && currentGoroutineID() == id
}

func (l *Loop) ensureStarted() {
	l.startOnce.Do(func() {
		l.cfg.threadFactory(l.run)
	})
}

// Execute enqueues fn for asynchronous, fire-and-forget execution on the
// loop thread. If the loop has already shut down, fn is dropped and the
// drop is logged; callers that need to observe success should use
// [Loop.Submit] instead.
func (l *Loop) Execute(fn func()) {
	if fn == nil {
		return
	}
	if !l.state.CanAcceptWork() {
		logEvent(LevelWarn, "loop", l.id, "execute dropped: loop not accepting work", ErrLoopShutdown)
		return
	}
	l.ensureStarted()
	if !l.enqueue(func() { l.safeRunTask(fn) }) {
		logEvent(LevelWarn, "loop", l.id, "execute dropped: task queue full", ErrTaskQueueFull)
	}
}

// Submit wraps fn in a [Promise] bound to this loop: the returned [Future]
// completes with fn's result (or its error, or a recovered panic) once fn
// runs on the loop thread.
func (l *Loop) Submit(fn func() (Result, error)) *Future {
	p := NewPromise(l)
	if !l.state.CanAcceptWork() {
		p.TryFailure(ErrLoopShutdown)
		return p.Future
	}
	l.ensureStarted()
	if !l.enqueue(func() { runGuarded(fn, p) }) {
		p.TryFailure(ErrTaskQueueFull)
	}
	return p.Future
}

// ScheduledFuture is returned by [Loop.Schedule]; Cancel additionally
// best-effort removes the entry from the scheduled-task heap if it has not
// fired yet.
type ScheduledFuture struct {
	*Future
	loop  *Loop
	entry *scheduledTask // written once, only ever from the loop thread
}

// Cancel removes the scheduled task from the heap if it has not yet fired,
// and cancels the underlying future. A cancel arriving after the task has
// already been popped for execution is a harmless no-op.
func (sf *ScheduledFuture) Cancel(mayInterrupt bool) bool {
	if !sf.IsCancellable() {
		return false
	}
	sf.loop.Execute(func() {
		if sf.entry != nil {
			sf.loop.scheduled.cancel(sf.entry)
		}
		sf.Future.Cancel(mayInterrupt)
	})
	return true
}

// Schedule runs fn once after delay elapses, on the loop thread. Funnelling
// through the same task queue and wakeup path as Execute keeps the
// scheduled-task heap owned exclusively by the loop thread, at the cost of
// the actual insertion (and therefore the wakeup re-arm) happening on the
// loop's very next iteration rather than the instant Schedule is called
// from a foreign thread.
func (l *Loop) Schedule(delay time.Duration, fn func() (Result, error)) *ScheduledFuture {
	p := NewPromise(l)
	sf := &ScheduledFuture{Future: p.Future, loop: l}
	if !l.state.CanAcceptWork() {
		p.TryFailure(ErrLoopShutdown)
		return sf
	}
	l.ensureStarted()
	deadline := nowNanos() + delay.Nanoseconds()
	insert := func() {
		sf.entry = l.scheduled.insert(deadline, func() { runGuarded(fn, p) })
	}
	if l.isLoopThread() {
		if l.testHooks != nil && l.testHooks.OnFastPathEntry != nil {
			l.testHooks.OnFastPathEntry()
		}
		insert()
		return sf
	}
	if !l.enqueue(insert) {
		p.TryFailure(ErrTaskQueueFull)
	}
	return sf
}

// Register binds fd to this loop with the given interest set and
// attachment (a [ChannelAttachment] or a [ReadinessTask]). Safe to call
// from any goroutine; it funnels through the loop thread when called off
// it.
func (l *Loop) Register(fd int, ops IOEvents, attachment any) (*Registration, error) {
	if ops == 0 {
		return nil, ErrZeroInterestOps
	}
	if ops&^validOps != 0 {
		return nil, ErrInvalidInterestOps
	}
	switch attachment.(type) {
	case ChannelAttachment, ReadinessTask:
	default:
		return nil, ErrInvalidAttachment
	}
	if l.isLoopThread() {
		return l.registerLocal(fd, ops, attachment)
	}
	fut := l.Submit(func() (Result, error) {
		return l.registerLocal(fd, ops, attachment)
	})
	if err := fut.Sync(context.Background()); err != nil {
		return nil, err
	}
	v, _ := fut.GetNow()
	return v.(*Registration), nil
}

func (l *Loop) registerLocal(fd int, ops IOEvents, attachment any) (*Registration, error) {
	if l.state.IsTerminal() {
		return nil, ErrLoopShutdown
	}
	reg := &Registration{fd: fd, loop: l, attachment: attachment, key: -1}
	reg.interestOps.Store(uint32(ops))
	if err := l.note.registerFD(fd, ops, reg); err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.registrations.Add(1)
	}
	return reg, nil
}

func (l *Loop) onRegistrationCancelled() {
	if l.metrics != nil {
		l.metrics.registrations.Add(-1)
	}
	l.cancelledKeys++
	if l.cancelledKeys >= cleanupInterval {
		l.cancelledKeys = 0
		l.selectAgain = true
	}
}

// enqueue pushes fn onto the task queue and, if the caller is not the loop
// thread and it won the wakeup CAS, triggers the notifier's wakeup
// primitive. Returns false if the queue is at capacity.
func (l *Loop) enqueue(fn func()) bool {
	if !l.queue.Offer(fn) {
		return false
	}
	if !l.isLoopThread() {
		if l.wake.requestWakeup() {
			if err := l.note.triggerWakeup(); err != nil {
				logEvent(LevelError, "loop", l.id, "wakeup primitive failed", err)
			}
		}
	}
	return true
}

func runGuarded(fn func() (Result, error), p *Promise) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			logEvent(LevelError, "loop", 0, "submitted task panicked", pe)
			p.TryFailure(pe)
		}
	}()
	v, err := fn()
	if err != nil {
		p.TryFailure(err)
	} else {
		p.TrySuccess(v)
	}
}

func (l *Loop) safeRunTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			category, suppressed := "loop", 0
			if ok, n := l.cfg.loopErrorLimiter.allow(l.id); ok {
				suppressed = n
				logEventSuppressed(LevelError, category, l.id, "task panicked", pe, suppressed)
			}
		}
	}()
	fn()
}

// loopTestHooks lets tests observe transitions that are otherwise invisible
// from outside the loop goroutine: the Running<->Sleeping oscillation around
// the notifier wait, and entry into a direct (non-queued) execution path.
// Nil in production; only ever set before a loop's goroutine is started.
type loopTestHooks struct {
	PrePollSleep    func() // called before CAS to StateSleeping
	PrePollAwake    func() // called before CAS back to StateRunning
	OnFastPathEntry func() // called when work runs inline instead of via the queue
}

// run is the loop's body, executed on its own goroutine for its entire
// lifetime. The goroutine is pinned to its OS thread: epoll/kqueue require
// thread affinity for correctness, and the loop's goroutine never migrates
// once this is called. A panic escaping tick's own control flow (as opposed
// to a task, listener, or dispatch handler, which are already isolated) is
// caught here, logged, and the loop resumes after a one second pause rather
// than taking the whole goroutine down.
func (l *Loop) run() {
	runtime.LockOSThread()
	l.goroutineID.Store(currentGoroutineID())
	l.state.Store(StateRunning)
	for {
		if l.runTick() {
			break
		}
	}
	l.state.Store(StateTerminated)
	close(l.doneCh)
	l.termination.TrySuccess(nil)
}

// runTick calls tick once, recovering a panic escaping the reactor's own
// control flow instead of letting it crash the loop goroutine.
func (l *Loop) runTick() (done bool) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			category, suppressed := "loop", 0
			if ok, n := l.cfg.loopErrorLimiter.allow(l.id); ok {
				suppressed = n
				logEventSuppressed(LevelError, category, l.id, "event loop caught an unexpected panic, sleeping before resume", pe, suppressed)
			}
			time.Sleep(time.Second)
			done = false
		}
	}()
	return l.tick()
}

// tick runs one iteration of the reactor algorithm: strategy select, arm
// wakeup and wait, dispatch the ready set, drain tasks under the io_ratio
// budget, detect spurious wakeups (rebuilding the notifier if they persist),
// and finally check for shutdown completion.
func (l *Loop) tick() (done bool) {
	tickStart := nowNanos()

	deadlineAbs, hasDeadline := l.scheduled.nextDeadline()
	if hasDeadline {
		l.wake.arm(deadlineAbs)
	} else {
		l.wake.arm(0)
	}

	var timeoutNanos int64
	switch {
	case !l.queue.IsEmpty():
		timeoutNanos = 0
	case hasDeadline:
		timeoutNanos = deadlineAbs - nowNanos()
		if timeoutNanos < 0 {
			timeoutNanos = 0
		}
	default:
		timeoutNanos = -1
	}

	l.ready.reset(0)
	l.enterSleeping()
	n, err := l.note.wait(timeoutNanos, l.ready)
	l.exitSleeping()
	l.wake.disarm()

	interrupted := false
	if err != nil {
		logEvent(LevelError, "poller", l.id, "notifier wait failed", err)
		interrupted = true
	}

	ioStart := nowNanos()
	dispatched := 0
	if n > 0 {
		dispatched = l.dispatchReady()
	}
	ioElapsed := nowNanos() - ioStart

	l.promoteDueScheduled()

	drained := l.drainTasks(ioElapsed, n > 0)

	switch {
	case interrupted:
		l.selectCnt = 0
	case dispatched == 0 && drained == 0:
		l.selectCnt++
		if l.cfg.selectorRebuildThreshold > 0 && l.selectCnt >= l.cfg.selectorRebuildThreshold {
			l.rebuildNotifier()
			l.selectCnt = 0
		}
	default:
		l.selectCnt = 0
	}

	if l.metrics != nil {
		l.metrics.recordTick(nowNanos()-tickStart, dispatched, drained)
	}

	return l.maybeShutdown()
}

// enterSleeping marks the loop as blocked in the notifier wait. A no-op if
// some other transition (e.g. a concurrent ShutdownGracefully) has already
// moved the state off Running, since Sleeping is purely an observability
// detail of "started", not a distinct lifecycle phase.
func (l *Loop) enterSleeping() {
	if l.testHooks != nil && l.testHooks.PrePollSleep != nil {
		l.testHooks.PrePollSleep()
	}
	l.state.TryTransition(StateRunning, StateSleeping)
}

// exitSleeping reverses enterSleeping. A no-op if the state already moved
// past Sleeping while the loop was blocked in wait.
func (l *Loop) exitSleeping() {
	if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
		l.testHooks.PrePollAwake()
	}
	l.state.TryTransition(StateSleeping, StateRunning)
}

func (l *Loop) promoteDueScheduled() {
	due := l.scheduled.popDue(nowNanos())
	for _, t := range due {
		fn := t.fn
		l.queue.Push(func() { l.safeRunTask(fn) })
	}
}

func (l *Loop) drainTasks(ioElapsedNanos int64, dispatchedAny bool) int {
	if l.cfg.ioRatio == 100 {
		return l.drainAll()
	}
	if !dispatchedAny {
		return l.drainBatch()
	}
	budget := ioElapsedNanos * int64(100-l.cfg.ioRatio) / int64(l.cfg.ioRatio)
	if budget <= 0 {
		return l.drainBatch()
	}
	deadline := nowNanos() + budget
	drained := 0
	for nowNanos() < deadline {
		fn, ok := l.queue.Pop()
		if !ok {
			break
		}
		fn()
		drained++
	}
	return drained
}

func (l *Loop) drainAll() int {
	drained := 0
	for {
		fn, ok := l.queue.Pop()
		if !ok {
			break
		}
		fn()
		drained++
	}
	return drained
}

// drainBatch drains at most the number of tasks that were queued at the
// moment it was called, so a blocking stretch of draining can never spin
// forever chasing tasks enqueued by the tasks it's running.
func (l *Loop) drainBatch() int {
	target := l.queue.Len()
	drained := 0
	for drained < target {
		fn, ok := l.queue.Pop()
		if !ok {
			break
		}
		fn()
		drained++
	}
	return drained
}

// dispatchReady iterates the notifier's ready set per the algorithm in
// notifier.go's [ChannelAttachment] contract, restarting from the current
// index whenever a cancellation-threshold crossing requests a re-poll mid
// pass.
func (l *Loop) dispatchReady() int {
	dispatched := 0
	for i := 0; i < l.ready.size(); i++ {
		reg := l.ready.at(i)
		l.ready.null(i)
		if reg == nil || reg.Cancelled() {
			continue
		}
		l.dispatchOne(reg)
		dispatched++
		if l.selectAgain {
			l.selectAgain = false
			_, _ = l.note.wait(0, l.ready)
		}
	}
	return dispatched
}

func (l *Loop) dispatchOne(reg *Registration) {
	defer func() {
		if r := recover(); r != nil {
			l.cancelRegistrationWithCause(reg, reg.attachment, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	switch att := reg.attachment.(type) {
	case ReadinessTask:
		if err := att(reg.readyOps); err != nil {
			l.cancelRegistrationWithCause(reg, att, err)
		}
	case ChannelAttachment:
		l.dispatchChannel(reg, att)
	}
}

func (l *Loop) dispatchChannel(reg *Registration, att ChannelAttachment) {
	ready := reg.readyOps & att.InterestOps()

	if ready&EventConnect != 0 && att.Valid() {
		_ = reg.setInterestOpsLocal(reg.InterestOps() &^ EventConnect)
		if err := att.FinishConnect(); err != nil {
			l.cancelRegistrationWithCause(reg, att, err)
			return
		}
	}
	if att.Valid() && ready&EventWrite != 0 {
		if err := att.Flush(); err != nil {
			l.cancelRegistrationWithCause(reg, att, err)
			return
		}
	}
	if att.Valid() && (ready&EventRead != 0 || ready == 0) {
		if err := att.Read(); err != nil {
			l.cancelRegistrationWithCause(reg, att, err)
			return
		}
	}
	if !att.Valid() && !reg.Cancelled() {
		reg.cancel()
		att.Unregistered(nil)
	}
}

func (l *Loop) cancelRegistrationWithCause(reg *Registration, attachment any, cause error) {
	reg.cancel()
	de := &DispatchError{Cause: cause, FD: reg.fd}
	logEvent(LevelWarn, "loop", l.id, "dispatch handler failed", de)
	if att, ok := attachment.(ChannelAttachment); ok {
		att.Unregistered(de)
	}
}

func (l *Loop) rebuildNotifier() {
	fresh, err := newPlatformNotifier()
	if err != nil {
		logEvent(LevelError, "rebuild", l.id, "failed to create replacement notifier", err)
		return
	}
	old := l.note
	for _, reg := range old.snapshot() {
		ops := reg.InterestOps()
		if err := fresh.registerFD(reg.fd, ops, reg); err != nil {
			rerr := &RebuildError{Cause: err, FD: reg.fd}
			if ok, suppressed := l.cfg.rebuildWarnLimiter.allow(l.id); ok {
				logEventSuppressed(LevelWarn, "rebuild", l.id, "failed to migrate registration", rerr, suppressed)
			}
			reg.cancel()
			if att, ok := reg.attachment.(ChannelAttachment); ok {
				att.Unregistered(rerr)
			}
			continue
		}
	}
	l.note = fresh
	if err := old.close(); err != nil {
		logEvent(LevelWarn, "rebuild", l.id, "failed to close previous notifier", err)
	}
	if l.metrics != nil {
		l.metrics.recordRebuild()
	}
}

// ShutdownGracefully requests an orderly stop. The quiet-period deadline and
// the overall timeout deadline are both fixed at the moment of the call; work
// submitted during the quiet period is still accepted but does not extend
// it. Once the quiet period has elapsed and the task queue is empty, or once
// the overall timeout has passed, the loop performs its final drain and
// exits. The returned Future is the same one returned by [Loop.Termination].
func (l *Loop) ShutdownGracefully(quietPeriod, timeout time.Duration) *Future {
	now := nowNanos()
	l.quietDeadline.Store(now + quietPeriod.Nanoseconds())
	l.shutdownDeadlineAbs.Store(now + timeout.Nanoseconds())
	l.shutdownRequested.Store(true)
	for {
		cur := l.state.Load()
		if cur == StateShuttingDown || cur == StateShutdown || cur == StateTerminated {
			break
		}
		if l.state.TryTransition(cur, StateShuttingDown) {
			break
		}
	}
	l.ensureStarted()
	l.Execute(func() {})
	return l.termination.Future
}

// maybeShutdown checks whether a graceful shutdown requested via
// [Loop.ShutdownGracefully] is ready to proceed past its quiet period (or has
// hit its overall timeout), and performs the final drain once it does.
func (l *Loop) maybeShutdown() bool {
	st := l.state.Load()
	if st != StateShuttingDown && st != StateShutdown {
		return false
	}
	if st == StateShuttingDown {
		now := nowNanos()
		timedOut := now >= l.shutdownDeadlineAbs.Load()
		quietElapsed := now >= l.quietDeadline.Load()
		if !timedOut && (!quietElapsed || !l.queue.IsEmpty()) {
			return false
		}
		l.state.TryTransition(StateShuttingDown, StateShutdown)
	}
	l.closeAllRegistrations()
	l.drainAll()
	if err := l.note.close(); err != nil {
		logEvent(LevelWarn, "shutdown", l.id, "failed to close notifier", err)
	}
	return true
}

func (l *Loop) closeAllRegistrations() {
	for _, reg := range l.note.snapshot() {
		if reg.Cancelled() {
			continue
		}
		reg.cancel()
		if att, ok := reg.attachment.(ChannelAttachment); ok {
			att.Unregistered(ErrLoopShutdown)
		}
	}
}

