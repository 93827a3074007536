// Package batcher groups items into size- or time-bounded batches.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batcher: closed")

// FlushFunc persists one batch. The callee must not modify or retain the slice.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Options configures a Batcher.
type Options struct {
	MaxSize  int
	Interval time.Duration
	// OnError observes failures of timer-driven flushes, which have no caller to return to.
	OnError func(err error, size int)
}

// Stats counts work done since construction. Items counts only items in
// successful flushes; Pending includes batches waiting to be retried.
type Stats struct {
	Batches  int64
	Items    int64
	Failures int64
	Pending  int
}

// Batcher collects items and flushes them when MaxSize is reached or Interval elapses.
// Flushes never run concurrently with each other. A batch whose flush fails goes
// back to the head of the buffer, so it is retried before any later item.
type Batcher[T any] struct {
	mu      sync.Mutex
	buffer  []T
	closed  bool
	stats   Stats
	flushMu sync.Mutex

	opts    Options
	flushFn FlushFunc[T]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New starts a batcher. Timer-driven flushes run with a context derived from ctx.
func New[T any](ctx context.Context, opts Options, flushFn FlushFunc[T]) *Batcher[T] {
	if opts.MaxSize < 1 {
		opts.MaxSize = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b := &Batcher[T]{
		opts:    opts,
		flushFn: flushFn,
		ctx:     loopCtx,
		cancel:  cancel,
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Add queues an item. When the size threshold is met the batch is flushed on the
// caller's goroutine and its error returned.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.buffer = append(b.buffer, item)
	full := len(b.buffer) >= b.opts.MaxSize
	b.mu.Unlock()
	if !full {
		return nil
	}
	_, err := b.flush(ctx)
	return err
}

// Flush forces a flush of the accumulated items.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	_, err := b.flush(ctx)
	return err
}

// Close stops the timer and flushes what is left using ctx.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	return b.Flush(ctx)
}

// Stats returns a snapshot of the counters.
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.buffer)
	return s
}

func (b *Batcher[T]) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if size, err := b.flush(b.ctx); err != nil && b.opts.OnError != nil {
				b.opts.OnError(err, size)
			}
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Batcher[T]) detach() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := make([]T, len(b.buffer))
	copy(batch, b.buffer)
	b.buffer = b.buffer[:0]
	return batch
}

// flush hands the whole buffer to flushFn. The buffer is detached under flushMu so a
// batch that failed is requeued before any other flush can take later items.
func (b *Batcher[T]) flush(ctx context.Context) (int, error) {
	if b.flushFn == nil {
		return 0, errors.New("batcher: no flush function configured")
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.detach()
	b.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}
	err := b.flushFn(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.stats.Failures++
		b.requeue(batch)
		return len(batch), err
	}
	b.stats.Batches++
	b.stats.Items += int64(len(batch))
	return len(batch), nil
}

// requeue puts a failed batch in front of items added while it was flushing.
func (b *Batcher[T]) requeue(batch []T) {
	buf := make([]T, 0, len(batch)+len(b.buffer))
	buf = append(buf, batch...)
	b.buffer = append(buf, b.buffer...)
}
