// Package scheduler coalesces keyed work into batches that are flushed on a
// timer or when a size threshold is reached.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FlushFunc receives one batch. Keys are unique and in first-enqueue order.
type FlushFunc func(ctx context.Context, keys []string)

// Options configures a Batcher.
type Options struct {
	// Window is how long the first key of a batch waits before the batch is flushed.
	Window time.Duration

	// MaxSize flushes early once this many distinct keys are queued. Zero disables it.
	MaxSize int

	// Clock drives the window timer. Defaults to the real clock.
	Clock clockwork.Clock
}

// Batcher collects keys and hands them to a FlushFunc as a set. Only one
// window timer is armed at a time; flushing cancels it.
type Batcher struct {
	window  time.Duration
	maxSize int
	clock   clockwork.Clock
	flush   FlushFunc

	mu      sync.Mutex
	pending []string
	seen    map[string]struct{}
	timer   clockwork.Timer
	stop    chan struct{}
	closed  bool
	flushes sync.WaitGroup
}

// NewBatcher creates a Batcher that calls flush with each batch.
func NewBatcher(opts Options, flush FlushFunc) *Batcher {
	if opts.Window <= 0 {
		opts.Window = 300 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Batcher{
		window:  opts.Window,
		maxSize: opts.MaxSize,
		clock:   opts.Clock,
		flush:   flush,
		seen:    make(map[string]struct{}),
	}
}

// Enqueue adds key to the current batch. A key already queued is ignored.
// It reports whether the key was added.
func (b *Batcher) Enqueue(key string) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if _, dup := b.seen[key]; dup {
		b.mu.Unlock()
		return false
	}
	b.seen[key] = struct{}{}
	b.pending = append(b.pending, key)

	if b.maxSize > 0 && len(b.pending) >= b.maxSize {
		batch := b.takeLocked()
		b.flushes.Add(1)
		b.mu.Unlock()
		go b.run(batch)
		return true
	}

	if b.timer == nil {
		b.armLocked()
	}
	b.mu.Unlock()
	return true
}

// Flush sends the pending batch now, synchronously. It is a no-op when empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.takeLocked()
	if len(batch) > 0 {
		b.flushes.Add(1)
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.run(batch)
	}
}

// Remove drops a single key from the pending batch. It reports whether it was queued.
func (b *Batcher) Remove(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.seen[key]; !ok {
		return false
	}
	delete(b.seen, key)
	for i, k := range b.pending {
		if k == key {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	if len(b.pending) == 0 {
		b.disarmLocked()
	}
	return true
}

// Pending returns a copy of the queued keys.
func (b *Batcher) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.pending))
	copy(out, b.pending)
	return out
}

// Close flushes what is pending, waits for running flushes and rejects further keys.
func (b *Batcher) Close() {
	b.Flush()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.flushes.Wait()
}

// Wait blocks until every flush started so far has returned.
func (b *Batcher) Wait() {
	b.flushes.Wait()
}

func (b *Batcher) run(batch []string) {
	defer b.flushes.Done()
	b.flush(context.Background(), batch)
}

func (b *Batcher) armLocked() {
	timer := b.clock.NewTimer(b.window)
	stop := make(chan struct{})
	b.timer, b.stop = timer, stop

	go func() {
		select {
		case <-timer.Chan():
		case <-stop:
			return
		}

		b.mu.Lock()
		if b.timer != timer {
			// Flushed or emptied while we were waking up.
			b.mu.Unlock()
			return
		}
		batch := b.takeLocked()
		if len(batch) == 0 {
			b.mu.Unlock()
			return
		}
		b.flushes.Add(1)
		b.mu.Unlock()
		b.run(batch)
	}()
}

func (b *Batcher) disarmLocked() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	close(b.stop)
	b.timer, b.stop = nil, nil
}

// takeLocked empties the batch and cancels the window timer.
func (b *Batcher) takeLocked() []string {
	b.disarmLocked()
	batch := b.pending
	b.pending = nil
	b.seen = make(map[string]struct{})
	return batch
}
