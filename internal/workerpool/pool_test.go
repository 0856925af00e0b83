package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mitrarr/mitra-go/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSize(t *testing.T) {
	capped := func(n int) int { return min(n, runtime.NumCPU()*4) }

	assert.Equal(t, capped(4), Size(0, 1), "small deployments get the minimum")
	assert.Equal(t, capped(10), Size(0, 5))
	assert.Equal(t, capped(24), Size(0, 40), "large deployments are clamped")
	assert.Equal(t, capped(7), Size(7, 40), "configured size wins")
	assert.GreaterOrEqual(t, Size(0, 0), 1)
}

func TestEach_RunsEveryItemWithinLimit(t *testing.T) {
	pool := New(3)
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var (
		running, peak atomic.Int32
		mu            sync.Mutex
		seen          = map[int]bool{}
	)
	err := EachSlice(context.Background(), pool, items, func(_ context.Context, n int) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		running.Add(-1)
	})
	require.NoError(t, err)
	assert.Len(t, seen, 50)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestEach_StopsOnCancel(t *testing.T) {
	pool := New(2)
	ctx, cancel := context.WithCancel(context.Background())

	var done atomic.Int32
	items := func(yield func(int) bool) {
		for i := 0; ; i++ {
			if !yield(i) {
				return
			}
		}
	}

	err := Each(ctx, pool, items, func(_ context.Context, n int) {
		if done.Add(1) == 10 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, done.Load(), int32(10))
}

func TestEach_UnitFailuresDoNotStopTheBatch(t *testing.T) {
	pool := New(4)
	var ok atomic.Int32
	err := EachSlice(context.Background(), pool, []int{1, 2, 3, 4, 5, 6}, func(_ context.Context, n int) {
		if n%2 == 0 {
			return // a failed unit records its own outcome
		}
		ok.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), ok.Load())
}

func TestEach_CancelReleasesBlockedWorkers(t *testing.T) {
	pool := New(2)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 5)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = EachSlice(ctx, pool, []int{1, 2, 3, 4, 5}, func(ctx context.Context, _ int) {
			started <- struct{}{}
			<-ctx.Done()
		})
	}()

	for range pool.Workers() {
		select {
		case <-started:
		case <-time.After(testutil.DefaultTestTimeout):
			t.Fatal("workers did not start")
		}
	}
	cancel()
	testutil.WaitForChannel(t, finished, testutil.DefaultTestTimeout, "Each did not return after cancel")
}
