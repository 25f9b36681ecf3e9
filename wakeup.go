package reactorcore

import "sync/atomic"

// wakePhase is the per-loop wakeup state: AWAKE, IDLE, or IDLE-UNTIL
// (deadline). Producers CAS-swap this word to AWAKE and only invoke the
// notifier's wakeup primitive if they observed a non-AWAKE prior value —
// this is the sole mechanism keeping wakeups O(1) amortized.
type wakePhase uint32

const (
	wakeAwake wakePhase = iota
	wakeIdle
	wakeIdleUntil
)

// wakeupState is the CAS-swap word plus the armed deadline. The owning loop
// goroutine arms it before it blocks; foreign producers swap the phase back
// to AWAKE when deciding whether to invoke the notifier wakeup.
type wakeupState struct {
	phase    atomic.Uint32
	deadline atomic.Int64 // valid iff phase == wakeIdleUntil; monotonic nanoseconds, 0 == no deadline
}

func newWakeupState() *wakeupState {
	s := &wakeupState{}
	s.phase.Store(uint32(wakeAwake))
	return s
}

// arm transitions AWAKE -> IDLE (deadlineNanos == 0) or IDLE-UNTIL
// (deadlineNanos != 0). Called only by the owning loop goroutine,
// immediately before it blocks in the notifier wait.
func (w *wakeupState) arm(deadlineNanos int64) {
	if deadlineNanos != 0 {
		w.deadline.Store(deadlineNanos)
		w.phase.Store(uint32(wakeIdleUntil))
	} else {
		w.phase.Store(uint32(wakeIdle))
	}
}

// disarm transitions back to AWAKE after the notifier wait returns. A
// spurious extra wakeup is harmless; a missed one is not — so this is a
// plain store, not a CAS, and racing with a producer's swap is fine either
// way.
func (w *wakeupState) disarm() {
	w.phase.Store(uint32(wakeAwake))
}

func (w *wakeupState) load() wakePhase {
	return wakePhase(w.phase.Load())
}

// requestWakeup implements the producer side of the protocol: CAS-swap to
// AWAKE, and report whether the caller "won" the transition (i.e. observed a
// non-AWAKE prior state) — the caller should invoke the notifier's wakeup
// primitive iff this returns true.
func (w *wakeupState) requestWakeup() bool {
	prev := w.phase.Swap(uint32(wakeAwake))
	return wakePhase(prev) != wakeAwake
}
