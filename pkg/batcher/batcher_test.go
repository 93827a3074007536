package batcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recorder) flush(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestFlushBySize(t *testing.T) {
	rec := &recorder{}
	b := New[int](context.Background(), Options{MaxSize: 3, Interval: time.Hour}, rec.flush)
	defer b.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, 1))
	require.NoError(t, b.Add(ctx, 2))
	require.Empty(t, rec.batches)
	require.NoError(t, b.Add(ctx, 3))

	require.Equal(t, [][]int{{1, 2, 3}}, rec.batches)
	require.Equal(t, Stats{Batches: 1, Items: 3}, b.Stats())
}

func TestFlushByInterval(t *testing.T) {
	rec := &recorder{}
	b := New[int](context.Background(), Options{MaxSize: 10, Interval: 20 * time.Millisecond}, rec.flush)
	defer b.Close(context.Background())

	require.NoError(t, b.Add(context.Background(), 42))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTimerFailuresReachOnError(t *testing.T) {
	cause := errors.New("insert failed")
	rec := &recorder{err: cause}
	var (
		mu   sync.Mutex
		seen []int
	)
	b := New[int](context.Background(), Options{
		MaxSize:  10,
		Interval: 20 * time.Millisecond,
		OnError: func(err error, size int) {
			mu.Lock()
			defer mu.Unlock()
			require.ErrorIs(t, err, cause)
			seen = append(seen, size)
		},
	}, rec.flush)
	defer b.Close(context.Background())

	require.NoError(t, b.Add(context.Background(), 1))
	require.NoError(t, b.Add(context.Background(), 2))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1 && seen[0] == 2
	}, time.Second, 10*time.Millisecond)
	stats := b.Stats()
	require.GreaterOrEqual(t, stats.Failures, int64(1))
	require.Zero(t, stats.Items)
}

func TestSizeFlushReturnsError(t *testing.T) {
	cause := errors.New("insert failed")
	b := New[int](context.Background(), Options{MaxSize: 1, Interval: time.Hour}, (&recorder{err: cause}).flush)
	defer b.Close(context.Background())
	require.ErrorIs(t, b.Add(context.Background(), 1), cause)
}

func TestFailedBatchIsRetriedBeforeLaterItems(t *testing.T) {
	cause := errors.New("insert failed")
	rec := &recorder{err: cause}
	b := New[int](context.Background(), Options{MaxSize: 2, Interval: time.Hour}, rec.flush)
	defer b.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, 1))
	require.ErrorIs(t, b.Add(ctx, 2), cause)
	require.Equal(t, Stats{Failures: 1, Pending: 2}, b.Stats())

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	require.NoError(t, b.Add(ctx, 3))

	require.Equal(t, [][]int{{1, 2}, {1, 2, 3}}, rec.batches)
	require.Equal(t, Stats{Batches: 1, Items: 3, Failures: 1}, b.Stats())
}

func TestFailedTimerFlushIsRetried(t *testing.T) {
	rec := &recorder{err: errors.New("insert failed")}
	b := New[int](context.Background(), Options{MaxSize: 10, Interval: 10 * time.Millisecond}, rec.flush)
	defer b.Close(context.Background())

	require.NoError(t, b.Add(context.Background(), 7))
	require.Eventually(t, func() bool { return b.Stats().Failures >= 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	require.Eventually(t, func() bool { return b.Stats().Items == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, b.Stats().Pending)
}

func TestCloseFlushesRemainder(t *testing.T) {
	rec := &recorder{}
	b := New[int](context.Background(), Options{MaxSize: 100, Interval: time.Hour}, rec.flush)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Add(context.Background(), i))
	}
	require.Equal(t, 5, b.Stats().Pending)

	require.NoError(t, b.Close(context.Background()))
	require.Equal(t, 5, rec.count())
	require.ErrorIs(t, b.Add(context.Background(), 6), ErrClosed)
	require.NoError(t, b.Close(context.Background()))
}

func TestFlushesDoNotOverlap(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	flush := func(context.Context, []int) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}
	b := New[int](context.Background(), Options{MaxSize: 2, Interval: time.Millisecond}, flush)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = b.Add(context.Background(), i)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, b.Close(context.Background()))
	require.Equal(t, 1, maxActive)
	require.Equal(t, int64(80), b.Stats().Items)
}
