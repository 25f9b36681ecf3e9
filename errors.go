package reactorcore

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by the core for invalid arguments and illegal
// lifecycle states.
var (
	// ErrZeroInterestOps is returned by [Loop.Register] when interestOps == 0.
	ErrZeroInterestOps = errors.New("reactorcore: interest ops must be non-zero")

	// ErrInvalidInterestOps is returned by [Loop.Register] when interestOps is
	// not a subset of the resource's valid ops.
	ErrInvalidInterestOps = errors.New("reactorcore: interest ops not a subset of valid ops")

	// ErrInvalidIORatio is returned at [Group]/[Loop] construction when
	// io_ratio is outside 1..=100.
	ErrInvalidIORatio = errors.New("reactorcore: io_ratio must be in range 1..=100")

	// ErrInvalidThreadCount is returned by [NewGroup] when the requested
	// thread count is <= 0.
	ErrInvalidThreadCount = errors.New("reactorcore: thread count must be > 0")

	// ErrLoopShutdown is returned when registration or submission is
	// attempted on a loop that has already fully shut down.
	ErrLoopShutdown = errors.New("reactorcore: loop has shut down")

	// ErrLoopNotRunning reports that an operation needed a running loop
	// thread. No function in this package returns it.
	ErrLoopNotRunning = errors.New("reactorcore: loop is not running")

	// ErrReentrantAwait is returned by [Future.Await]/[Future.Sync] when
	// called from the owning loop's own goroutine on a future that isn't
	// done yet — the loop would be blocking itself on work only it can run.
	ErrReentrantAwait = errors.New("reactorcore: await from owning loop goroutine would deadlock")

	// ErrFutureNotCancellable is returned by [Future.TryCancel] when the
	// future has had [Promise.SetUncancellable] called, or is already
	// terminal.
	ErrFutureNotCancellable = errors.New("reactorcore: future is not cancellable")

	// ErrFutureNotDone is returned by [Future.Get] when the future has not
	// yet reached a terminal state.
	ErrFutureNotDone = errors.New("reactorcore: future is not done")

	// ErrUnsupportedPlatform is returned by [Loop.Register] on platforms
	// without a reactor notifier binding (anything but linux and darwin).
	// Such a loop still runs as a plain single-thread executor.
	ErrUnsupportedPlatform = errors.New("reactorcore: reactor registration unsupported on this platform")

	// ErrTaskQueueFull is returned when a loop's bounded task queue has no
	// room for another submission (see [WithDefaultMaxPendingTasks]).
	ErrTaskQueueFull = errors.New("reactorcore: task queue is full")

	// ErrInvalidAttachment is returned by [Loop.Register] when the supplied
	// attachment is neither a [ChannelAttachment] nor a [ReadinessTask].
	ErrInvalidAttachment = errors.New("reactorcore: attachment must be a ChannelAttachment or ReadinessTask")
)

// CancellationError is the cause stored on a [Future] cancelled via
// [Future.Cancel] or [Future.TryCancel]. It wraps no other error.
type CancellationError struct {
	// Reason is an optional, caller-supplied description of why the future
	// was cancelled.
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return "reactorcore: future cancelled"
	}
	return "reactorcore: future cancelled: " + e.Reason
}

// RebuildError wraps a failure encountered migrating one registration during
// a notifier rebuild. Rebuild never aborts on these; each is logged and the
// affected registration closed.
type RebuildError struct {
	Cause error
	FD    int
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("reactorcore: rebuild: fd %d: %v", e.FD, e.Cause)
}

func (e *RebuildError) Unwrap() error { return e.Cause }

// DispatchError wraps a failure from a user-supplied readiness task invoked
// during ready-set dispatch. Confined to the failing entry; never propagates
// out of the reactor tick.
type DispatchError struct {
	Cause error
	FD    int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("reactorcore: dispatch: fd %d: %v", e.FD, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// PanicError wraps a recovered panic value from a task, listener, or
// dispatch handler invoked by the core. Every callback surface the core
// owns runs under recover(); panics are converted to a PanicError, logged,
// and confined to the callback that caused them.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("reactorcore: panic recovered: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is itself an
// error, enabling errors.Is/errors.As through the panic boundary.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
