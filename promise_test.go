package reactorcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type inlineExecutor struct {
	inLoop atomic.Bool
	tasks  []func()
}

func (e *inlineExecutor) InEventLoop() bool { return e.inLoop.Load() }

func (e *inlineExecutor) Execute(fn func()) { e.tasks = append(e.tasks, fn) }

func (e *inlineExecutor) drain() {
	for len(e.tasks) > 0 {
		t := e.tasks[0]
		e.tasks = e.tasks[1:]
		t()
	}
}

func TestPromiseTrySuccessOnlyTakesFirstValue(t *testing.T) {
	p := NewPromise(nil)
	if !p.TrySuccess(1) {
		t.Fatal("first TrySuccess should succeed")
	}
	if p.TrySuccess(2) {
		t.Fatal("second TrySuccess should be a no-op")
	}
	if p.TryFailure(errors.New("x")) {
		t.Fatal("TryFailure after success should be a no-op")
	}
	v, ok := p.GetNow()
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%v, %v)", v, ok)
	}
}

func TestPromiseTryFailureWrapsNilCause(t *testing.T) {
	p := NewPromise(nil)
	p.TryFailure(nil)
	require.Error(t, p.Cause())
}

func TestFutureListenerNotifiedExactlyOnce(t *testing.T) {
	p := NewPromise(nil)
	var calls atomic.Int32
	p.AddListener(func(f *Future) { calls.Add(1) })
	p.AddListener(func(f *Future) { calls.Add(1) })
	p.TrySuccess("done")
	p.TrySuccess("done again") // no-op, must not re-notify

	deadline := time.Now().Add(time.Second)
	for calls.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 listener calls, got %d", got)
	}
}

func TestFutureAddListenerAfterCompletionRunsImmediately(t *testing.T) {
	exec := &inlineExecutor{}
	exec.inLoop.Store(true)
	p := NewPromise(exec)
	p.TrySuccess(7)

	var got Result
	h := p.AddListener(func(f *Future) { got, _ = f.GetNow() })
	if h != 0 {
		t.Fatalf("listener added post-completion should report handle 0, got %d", h)
	}
	if got != 7 {
		t.Fatalf("expected listener to run inline with result 7, got %v", got)
	}
}

func TestFutureRemoveListenerRoundTrip(t *testing.T) {
	p := NewPromise(nil)
	var called atomic.Bool
	h := p.AddListener(func(f *Future) { called.Store(true) })
	if !p.RemoveListener(h) {
		t.Fatal("RemoveListener should succeed for a pending registration")
	}
	if p.RemoveListener(h) {
		t.Fatal("RemoveListener should be false the second time")
	}
	p.TrySuccess(nil)
	time.Sleep(10 * time.Millisecond)
	if called.Load() {
		t.Fatal("removed listener must not run")
	}
}

func TestFutureDispatchInlineVsEnqueue(t *testing.T) {
	exec := &inlineExecutor{}
	p := NewPromise(exec)

	var ranOnGoroutine string
	exec.inLoop.Store(false)
	p.AddListener(func(f *Future) { ranOnGoroutine = "deferred" })
	p.TrySuccess(nil)
	if ranOnGoroutine != "" {
		t.Fatal("listener should not have run inline while off the executor thread")
	}
	exec.drain()
	if ranOnGoroutine != "deferred" {
		t.Fatal("listener should have run once the executor drained its queue")
	}
}

func TestFutureAwaitReentrantFromOwningLoopFails(t *testing.T) {
	exec := &inlineExecutor{}
	exec.inLoop.Store(true)
	p := NewPromise(exec)

	_, err := p.Await(context.Background())
	if !errors.Is(err, ErrReentrantAwait) {
		t.Fatalf("expected ErrReentrantAwait, got %v", err)
	}
}

func TestFutureAwaitSucceedsOffLoop(t *testing.T) {
	exec := &inlineExecutor{}
	p := NewPromise(exec)
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.TrySuccess("ok")
	}()
	done, err := p.Await(context.Background())
	require.NoError(t, err)
	if !done {
		t.Fatal("expected Await to report done")
	}
}

func TestFutureSyncPropagatesCause(t *testing.T) {
	p := NewPromise(nil)
	sentinel := errors.New("boom")
	p.TryFailure(sentinel)
	err := p.Sync(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestFutureCancelAfterSetUncancellable(t *testing.T) {
	p := NewPromise(nil)
	if !p.SetUncancellable() {
		t.Fatal("SetUncancellable should succeed on a pending future")
	}
	if p.Cancel(false) {
		t.Fatal("Cancel should fail once uncancellable")
	}
}

func TestFutureTryCancelReturnsSentinelWhenNotCancellable(t *testing.T) {
	p := NewPromise(nil)
	require.NoError(t, p.TryCancel(false))
	require.ErrorIs(t, p.TryCancel(false), ErrFutureNotCancellable)

	p2 := NewPromise(nil)
	p2.TrySuccess(nil)
	require.ErrorIs(t, p2.TryCancel(false), ErrFutureNotCancellable)
}

func TestFutureGetReturnsNotDoneThenValueThenCause(t *testing.T) {
	p := NewPromise(nil)
	_, err := p.Get()
	require.ErrorIs(t, err, ErrFutureNotDone)

	p.TrySuccess(42)
	v, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, 42, v)

	sentinel := errors.New("boom")
	p2 := NewPromise(nil)
	p2.TryFailure(sentinel)
	_, err = p2.Get()
	require.ErrorIs(t, err, sentinel)
}

func TestFutureListenerPanicIsConfinedAndRecorded(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })
	var recorded atomic.Bool
	SetLogger(recordingLogger(func(e LogEntry) {
		var pe *PanicError
		if e.Category == "promise" && errors.As(e.Err, &pe) {
			recorded.Store(true)
		}
	}))

	p := NewPromise(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	p.AddListener(func(f *Future) { panic("listener blew up") })
	p.AddListener(func(f *Future) { wg.Done() })
	p.TrySuccess(nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a panicking listener must not prevent later listeners from running")
	}
	require.True(t, recorded.Load(), "the listener panic should be logged as a PanicError")
}

func TestGlobalExecutorRunsOffAnyLoop(t *testing.T) {
	p := NewPromise(nil)
	got := make(chan Result, 1)
	p.AddListener(func(f *Future) {
		v, _ := f.GetNow()
		got <- v
	})
	p.TrySuccess("via global executor")
	select {
	case v := <-got:
		if v != "via global executor" {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("listener on a nil-executor promise never ran")
	}
}
