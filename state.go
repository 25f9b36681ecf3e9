package reactorcore

import "sync/atomic"

// LoopState is the lifecycle of a [Loop]: not started → started →
// shutting-down (quiet period draining) → shutdown (refuses new work) →
// terminated (thread exited). Transitions are monotonic except the internal
// Running<->Sleeping oscillation, which happens many times per second while
// the loop is merely waiting on the notifier between ticks.
type LoopState uint32

const (
	// StateNotStarted is the state of a [Loop] that has been constructed but
	// has not yet had its goroutine started by a first Execute/Submit/Schedule.
	StateNotStarted LoopState = iota

	// StateRunning indicates the loop's goroutine is actively running a tick.
	StateRunning

	// StateSleeping indicates the loop's goroutine is blocked in the
	// notifier wait (or its fast-path channel equivalent). This is an
	// implementation detail of "started", not a distinct lifecycle phase
	// from the caller's point of view.
	StateSleeping

	// StateShuttingDown indicates graceful shutdown has been requested: the
	// loop is draining its quiet period and will continue processing
	// already-queued work, and new submissions from [Loop.Execute] are
	// still accepted so in-flight producers can complete their handoff.
	StateShuttingDown

	// StateShutdown indicates the quiet period has elapsed: the loop
	// refuses new work and is performing its final drain before the
	// goroutine exits.
	StateShutdown

	// StateTerminated indicates the loop's goroutine has exited. Terminal.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateShutdown:
		return "Shutdown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state machine for [Loop] lifecycle transitions:
// pure atomic CAS, no mutex, since it sits on the hot path of every tick.
type loopState struct {
	v atomic.Uint32
}

// newLoopState creates a new state machine in StateNotStarted.
func newLoopState() *loopState {
	s := &loopState{}
	s.v.Store(uint32(StateNotStarted))
	return s
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, for irreversible transitions where no
// prior-state check is needed (the caller has already established it holds).
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// CanAcceptWork returns true if the loop can still accept new submissions:
// not yet started (will lazily start), actively running/sleeping, or
// draining its shutdown quiet period.
func (s *loopState) CanAcceptWork() bool {
	switch s.Load() {
	case StateNotStarted, StateRunning, StateSleeping, StateShuttingDown:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the loop's goroutine has fully exited.
func (s *loopState) IsTerminal() bool {
	return s.Load() == StateTerminated
}
