package reactorcore

import (
	"context"
	"sync/atomic"
)

// IOEvents is the bitmask of operations a [Registration] cares about, or
// that a notifier reports as ready: the "interest set".
type IOEvents uint32

const (
	// EventRead indicates readability (or, for a listening resource,
	// acceptability).
	EventRead IOEvents = 1 << iota
	// EventWrite indicates writability.
	EventWrite
	// EventConnect indicates a pending non-blocking connect has completed.
	EventConnect
	// EventError indicates an error condition on the resource.
	EventError
	// EventHangup indicates the peer closed its end.
	EventHangup
)

// validOps is the full set of ops a notifier can ever report; Register
// rejects interest sets outside of it.
const validOps = EventRead | EventWrite | EventConnect

// ChannelAttachment is the contract an internal channel object fulfils to be
// dispatched by the reactor's readiness algorithm. Concrete channel and
// pipeline types live outside this module — the core only ever calls through
// this interface, never assumes anything about byte buffers, codecs, or
// pipelines.
type ChannelAttachment interface {
	// InterestOps returns the attachment's current interest set, read by the
	// dispatcher to compute ready_ops = entry.readyOps() & entry.InterestOps().
	InterestOps() IOEvents

	// FinishConnect is invoked when EventConnect is ready. Implementations
	// typically complete a connect-promise here.
	FinishConnect() error

	// Flush is invoked when EventWrite is ready.
	Flush() error

	// Read is invoked when EventRead is ready, or defensively when
	// readyOps == 0, guarding against a notifier bug that yields a
	// zero-ready entry.
	Read() error

	// Valid reports whether the attachment still considers itself
	// registered; the dispatcher closes the channel via Unregistered only
	// if Valid() is false AND the registration is still this loop's.
	Valid() bool

	// Unregistered is invoked when the reactor cancels the registration:
	// after Valid() reports false during dispatch, on a dispatch error, on a
	// rebuild failure, or at loop shutdown.
	Unregistered(cause error)
}

// ReadinessTask is the other kind of attachment the dispatcher accepts: a
// user-supplied function invoked directly with the ready ops, instead of an
// internal channel object. A ReadinessTask error cancels its own
// registration and triggers Unregistered-style notification via the
// returned error.
type ReadinessTask func(ready IOEvents) error

// Registration is the binding of one selectable resource to one loop. The
// fields documented as loop-thread-owned are only ever mutated by the owning
// Loop's goroutine; callers read them through the accessor methods, which
// are safe from any goroutine.
type Registration struct {
	fd          int
	loop        *Loop
	attachment  any // ChannelAttachment or ReadinessTask
	interestOps atomic.Uint32
	cancelled   atomic.Bool
	key         int // index into the notifier's readiness key array; -1 once cancelled

	// readyOps is transient scratch space, valid only between a notifier
	// wait() call populating the ready set and the dispatch pass that
	// consumes it. Owned exclusively by the loop thread.
	readyOps IOEvents
}

// notifier is the platform readiness multiplexer a [Loop] drives: epoll on
// Linux, kqueue on Darwin, a task-only stub everywhere else. Every method is
// called only from the owning loop's goroutine.
type notifier interface {
	// registerFD arms reg's fd with the given interest set.
	registerFD(fd int, ops IOEvents, reg *Registration) error
	// modifyFD updates the interest set for an already-registered fd.
	modifyFD(fd int, ops IOEvents) error
	// cancelFD removes fd from the notifier.
	cancelFD(fd int) error
	// wait blocks for up to timeoutNanos (0 means non-blocking poll, < 0
	// means block indefinitely) and appends every ready registration to
	// ready, setting each one's readyOps. Returns the number appended.
	wait(timeoutNanos int64, ready *keySet) (int, error)
	// triggerWakeup unblocks a concurrent wait() call from another
	// goroutine.
	triggerWakeup() error
	// snapshot returns every live registration, for notifier rebuild.
	snapshot() []*Registration
	// close releases the notifier's OS resources.
	close() error
}

// FD returns the underlying selectable handle.
func (r *Registration) FD() int { return r.fd }

// Loop returns the loop this registration is pinned to.
func (r *Registration) Loop() *Loop { return r.loop }

// InterestOps returns the currently armed interest set.
func (r *Registration) InterestOps() IOEvents {
	return IOEvents(r.interestOps.Load())
}

// SetInterestOps mutates the interest set. The change takes effect on or
// before the next notifier iteration on the owning loop. Safe to call from
// any goroutine; it funnels through the loop when called off the loop
// thread.
func (r *Registration) SetInterestOps(ops IOEvents) error {
	if ops&^validOps != 0 {
		return ErrInvalidInterestOps
	}
	if r.loop.isLoopThread() {
		return r.setInterestOpsLocal(ops)
	}
	fut := r.loop.Submit(func() (Result, error) {
		return nil, r.setInterestOpsLocal(ops)
	})
	return fut.Sync(context.Background())
}

func (r *Registration) setInterestOpsLocal(ops IOEvents) error {
	if r.cancelled.Load() {
		return nil
	}
	r.interestOps.Store(uint32(ops))
	return r.loop.note.modifyFD(r.fd, ops)
}

// Cancelled reports whether the registration has been cancelled.
func (r *Registration) Cancelled() bool { return r.cancelled.Load() }

// cancel marks the registration cancelled and removes it from the notifier.
// Must run on the owning loop's goroutine.
func (r *Registration) cancel() {
	if r.cancelled.Swap(true) {
		return
	}
	r.key = -1
	_ = r.loop.note.cancelFD(r.fd)
	r.loop.onRegistrationCancelled()
}

// keySet is the per-tick readiness set a notifier's wait populates and
// dispatchReady iterates. Two backings are available, selected once at
// construction by [WithDisableKeySetOptimization]:
//
//   - append-only array (the default "key set optimization"): O(1)
//     iteration over a dense slice reused tick to tick, O(1) branch-free
//     removal via slot nulling, no iterator or per-entry allocation. Entries
//     nulled mid-pass still occupy their slot until the next reset.
//   - native keyed set (the fallback, disableKeySetOptimization == true):
//     a plain map keyed by insertion id, matching a notifier's own native
//     registration table. Removal deletes the map entry immediately instead
//     of merely nulling a slot, at the cost of map insert/delete/lookup
//     overhead on every entry instead of a slice append.
type keySet struct {
	native bool

	// append-only backing.
	keys []*Registration

	// native-keyed backing.
	entries map[int]*Registration
	order   []int
	nextID  int
}

func newKeySet(useNative bool) *keySet {
	if useNative {
		return &keySet{native: true, entries: make(map[int]*Registration, 256)}
	}
	return &keySet{keys: make([]*Registration, 0, 256)}
}

func (k *keySet) size() int {
	if k.native {
		return len(k.order)
	}
	return len(k.keys)
}

func (k *keySet) add(r *Registration) int {
	if k.native {
		id := k.nextID
		k.nextID++
		k.entries[id] = r
		k.order = append(k.order, id)
		return id
	}
	k.keys = append(k.keys, r)
	return len(k.keys) - 1
}

// at returns the entry at index i, or nil if it has been nulled (the
// attachment was already reclaimed by dispatch).
func (k *keySet) at(i int) *Registration {
	if k.native {
		return k.entries[k.order[i]]
	}
	return k.keys[i]
}

// null clears the slot at i, so that closing a channel lets the attachment
// be reclaimed promptly instead of outliving the dispatch pass that removed
// it.
func (k *keySet) null(i int) {
	if k.native {
		delete(k.entries, k.order[i])
		return
	}
	k.keys[i] = nil
}

// reset truncates the set back to length `from`, reusing the backing array.
// Called at the start of every tick, before the notifier wait repopulates
// the set.
func (k *keySet) reset(from int) {
	if k.native {
		for i := from; i < len(k.order); i++ {
			delete(k.entries, k.order[i])
		}
		k.order = k.order[:from]
		return
	}
	for i := from; i < len(k.keys); i++ {
		k.keys[i] = nil
	}
	k.keys = k.keys[:from]
}
