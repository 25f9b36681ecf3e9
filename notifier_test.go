package reactorcore

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeySetAddAtNull(t *testing.T) {
	for _, native := range []bool{false, true} {
		k := newKeySet(native)
		r1 := &Registration{fd: 1}
		r2 := &Registration{fd: 2}

		i1 := k.add(r1)
		i2 := k.add(r2)
		require.Equal(t, 2, k.size())
		require.Same(t, r1, k.at(i1))
		require.Same(t, r2, k.at(i2))

		k.null(i1)
		require.Nil(t, k.at(i1))
		require.Same(t, r2, k.at(i2))
	}
}

func TestKeySetResetTruncatesAndClearsTail(t *testing.T) {
	for _, native := range []bool{false, true} {
		k := newKeySet(native)
		for i := 0; i < 5; i++ {
			k.add(&Registration{fd: i})
		}
		k.reset(2)
		require.Equal(t, 2, k.size())
		if native {
			require.Len(t, k.entries, 2)
		} else {
			for _, r := range k.keys[2:5] {
				require.Nil(t, r)
			}
		}
	}
}

func TestKeySetNativeReclaimsDeletedEntriesImmediately(t *testing.T) {
	k := newKeySet(true)
	idx := k.add(&Registration{fd: 7})
	require.Len(t, k.entries, 1)
	k.null(idx)
	require.Len(t, k.entries, 0, "native backing should delete on null, not just clear a slot")
}

func TestLoopUsesNativeKeySetWhenOptimizationDisabled(t *testing.T) {
	loop, err := NewLoop(WithDisableKeySetOptimization(true))
	require.NoError(t, err)
	defer loop.ShutdownGracefully(0, time.Second)
	require.True(t, loop.ready.native)
}

func TestRegistrationSetInterestOpsRejectsInvalidOps(t *testing.T) {
	loop, err := NewLoop()
	require.NoError(t, err)
	defer loop.ShutdownGracefully(0, time.Second)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg, err := loop.Register(int(r.Fd()), EventRead, ReadinessTask(func(IOEvents) error { return nil }))
	require.NoError(t, err)

	err = reg.SetInterestOps(IOEvents(1 << 30))
	require.ErrorIs(t, err, ErrInvalidInterestOps)
}

func TestRegistrationSetInterestOpsFromOffLoopThreadFunnels(t *testing.T) {
	loop, err := NewLoop()
	require.NoError(t, err)
	defer loop.ShutdownGracefully(0, time.Second)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg, err := loop.Register(int(r.Fd()), EventRead, ReadinessTask(func(IOEvents) error { return nil }))
	require.NoError(t, err)

	require.False(t, loop.InEventLoop())
	err = reg.SetInterestOps(EventRead | EventWrite)
	require.NoError(t, err)
	require.Equal(t, EventRead|EventWrite, reg.InterestOps())
}

func TestRegistrationSetInterestOpsAfterCancelIsNoOp(t *testing.T) {
	loop, err := NewLoop()
	require.NoError(t, err)
	defer loop.ShutdownGracefully(0, time.Second)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg, err := loop.Register(int(r.Fd()), EventRead, ReadinessTask(func(IOEvents) error { return nil }))
	require.NoError(t, err)

	fut := loop.Submit(func() (Result, error) {
		reg.cancel()
		return nil, nil
	})
	require.NoError(t, fut.Sync(context.Background()))

	require.NoError(t, reg.SetInterestOps(EventRead))
}

func TestNotifierRebuildSurvivesLiveRegistrations(t *testing.T) {
	loop, err := NewLoop(WithSelectorAutoRebuildThreshold(3))
	require.NoError(t, err)
	defer loop.ShutdownGracefully(0, time.Second)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())
	var fired atomic.Bool
	_, err = loop.Register(rfd, EventRead, ReadinessTask(func(IOEvents) error {
		fired.Store(true)
		return nil
	}))
	require.NoError(t, err)

	// Trigger the notifier's wakeup FD directly, with nothing queued and
	// nothing ready: each one is a spurious wakeup (dispatched == 0 &&
	// drained == 0), pushing select_cnt past the configured threshold of 3
	// and forcing a rebuild.
	for i := 0; i < 4; i++ {
		require.NoError(t, loop.note.triggerWakeup())
		time.Sleep(5 * time.Millisecond)
	}

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond,
		"registration should still dispatch readiness after a notifier rebuild")
}
