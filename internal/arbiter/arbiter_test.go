package arbiter_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/arbiter"
	"github.com/book-expert/audiobook-creator/internal/core"
)

func TestAcquireWhenFree(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(time.Second)

	lease, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)
	require.NotNil(t, lease)

	assert.Equal(t, arbiter.RoleSpeech, arb.Holder())
	assert.Equal(t, arbiter.RoleSpeech, lease.Role())

	lease.Release()
	assert.Empty(t, arb.Holder())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(5 * time.Second)

	first, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)

	acquired := make(chan struct{})

	go func() {
		lease, acquireErr := arb.Acquire(context.Background(), arbiter.RoleCleaning)
		assert.NoError(t, acquireErr)

		lease.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire completed while the device was held")
	case <-time.After(100 * time.Millisecond):
	}

	first.Release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestAcquireSameRoleFails(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(time.Second)

	lease, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)

	defer lease.Release()

	_, err = arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.ErrorIs(t, err, core.ErrAlreadyHeld)
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(50 * time.Millisecond)

	lease, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)

	defer lease.Release()

	_, err = arb.Acquire(context.Background(), arbiter.RoleCleaning)
	require.ErrorIs(t, err, core.ErrResourceTimeout)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(5 * time.Second)

	lease, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)

	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = arb.Acquire(ctx, arbiter.RoleCleaning)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(time.Second)

	lease, err := arb.Acquire(context.Background(), arbiter.RoleSpeech)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	next, err := arb.Acquire(context.Background(), arbiter.RoleCleaning)
	require.NoError(t, err)

	// A stale duplicate release must not evict the new holder.
	lease.Release()
	assert.Equal(t, arbiter.RoleCleaning, arb.Holder())

	next.Release()
}

func TestMutualExclusionUnderContention(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(10 * time.Second)

	var (
		inCritical atomic.Int32
		overlap    atomic.Bool
		wg         sync.WaitGroup
	)

	roles := []string{arbiter.RoleSpeech, arbiter.RoleCleaning}

	for i := range 20 {
		wg.Add(1)

		role := roles[i%len(roles)]

		go func() {
			defer wg.Done()

			lease, err := arb.Acquire(context.Background(), role)
			if err != nil {
				// Same-role collisions are expected under contention.
				assert.ErrorIs(t, err, core.ErrAlreadyHeld)

				return
			}

			if inCritical.Add(1) > 1 {
				overlap.Store(true)
			}

			time.Sleep(time.Millisecond)
			inCritical.Add(-1)
			lease.Release()
		}()
	}

	wg.Wait()
	assert.False(t, overlap.Load(), "two holders were inside the critical section at once")
}
