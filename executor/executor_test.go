package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttached(t *testing.T, kind CallbackGroupType) (*SingleThreadedExecutor, *CallbackGroup) {
	t.Helper()
	e := NewSingleThreadedExecutor()
	g := NewCallbackGroup(kind, false)
	require.NoError(t, e.AddCallbackGroup(g, "test_node"))
	return e, g
}

func TestCallbacksRunOnlyWhileSpinning(t *testing.T) {
	e, g := newAttached(t, MutuallyExclusive)
	f := NewFuture[int]()

	g.Post(func() { f.Set(42, nil) })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.Ready())
	assert.Equal(t, 1, g.Pending())

	code := e.SpinUntilFutureComplete(context.Background(), f, time.Second)
	assert.Equal(t, Success, code)

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSpinUntilFutureCompleteFromOtherGoroutine(t *testing.T) {
	e, g := newAttached(t, MutuallyExclusive)
	f := NewFuture[string]()

	go func() {
		time.Sleep(50 * time.Millisecond)
		g.Post(func() { f.Set("done", nil) })
	}()

	assert.Equal(t, Success, e.SpinUntilFutureComplete(context.Background(), f, Forever))
}

func TestSpinUntilFutureCompleteTimeout(t *testing.T) {
	e, _ := newAttached(t, MutuallyExclusive)
	f := NewFuture[int]()

	start := time.Now()
	assert.Equal(t, Timeout, e.SpinUntilFutureComplete(context.Background(), f, 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.Equal(t, Timeout, e.SpinUntilFutureComplete(context.Background(), f, 0))
}

func TestSpinUntilFutureCompleteZeroTimeoutRunsReady(t *testing.T) {
	e, g := newAttached(t, MutuallyExclusive)
	f := NewFuture[int]()
	g.Post(func() { f.Set(1, nil) })

	assert.Equal(t, Success, e.SpinUntilFutureComplete(context.Background(), f, 0))
}

func TestSpinUntilFutureCompleteInterrupted(t *testing.T) {
	e, _ := newAttached(t, MutuallyExclusive)
	f := NewFuture[int]()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	assert.Equal(t, Interrupted, e.SpinUntilFutureComplete(ctx, f, Forever))
}

func TestSpinOnce(t *testing.T) {
	e, g := newAttached(t, Reentrant)
	var n atomic.Int32
	g.Post(func() { n.Add(1) })
	g.Post(func() { n.Add(1) })

	assert.True(t, e.SpinOnce(context.Background(), 0))
	assert.Equal(t, int32(1), n.Load())
	assert.True(t, e.SpinOnce(context.Background(), 0))
	assert.False(t, e.SpinOnce(context.Background(), 10*time.Millisecond))
}

func TestGroupBelongsToOneExecutor(t *testing.T) {
	_, g := newAttached(t, MutuallyExclusive)
	other := NewSingleThreadedExecutor()
	assert.ErrorIs(t, other.AddCallbackGroup(g, "test_node"), ErrGroupAlreadyAdded)
}

func TestRemoveCallbackGroup(t *testing.T) {
	e, g := newAttached(t, MutuallyExclusive)
	e.RemoveCallbackGroup(g)
	assert.Empty(t, e.Groups())

	f := NewFuture[int]()
	g.Post(func() { f.Set(1, nil) })
	assert.Equal(t, Timeout, e.SpinUntilFutureComplete(context.Background(), f, 20*time.Millisecond))

	require.NoError(t, NewSingleThreadedExecutor().AddCallbackGroup(g, "test_node"))
}

func TestMutuallyExclusiveGroup(t *testing.T) {
	e, g := newAttached(t, MutuallyExclusive)

	var active, maxActive atomic.Int32
	done := make([]*Future[struct{}], 10)
	for i := range done {
		f := NewFuture[struct{}]()
		done[i] = f
		g.Post(func() {
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			f.Set(struct{}{}, nil)
		})
	}

	// Several goroutines spin the same executor.
	var wg sync.WaitGroup
	for _, f := range done {
		wg.Add(1)
		go func(f *Future[struct{}]) {
			defer wg.Done()
			assert.Equal(t, Success, e.SpinUntilFutureComplete(context.Background(), f, 2*time.Second))
		}(f)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestFutureSetOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.True(t, f.Set(1, nil))
	assert.False(t, f.Set(2, nil))

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureGetHonorsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
