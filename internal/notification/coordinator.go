package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gigsync/internal/logger"
	"gigsync/internal/metrics"
	"gigsync/internal/scheduler"

	"github.com/jonboulle/clockwork"
)

// ReadAPI sends read-state mutations to the server.
type ReadAPI interface {
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
}

// ReadError reports a rejected read mutation after its optimistic flip was
// rolled back. Retry sends the same mutation again; nothing retries on its own.
type ReadError struct {
	IDs []string
	All bool
	Err error

	retry func(ctx context.Context) error
}

func (e *ReadError) Error() string {
	if e.All {
		return fmt.Sprintf("mark all read failed: %v", e.Err)
	}
	return fmt.Sprintf("mark read failed for %s: %v", strings.Join(e.IDs, ","), e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Retry re-applies the optimistic flip and sends the mutation immediately.
func (e *ReadError) Retry(ctx context.Context) error {
	return e.retry(ctx)
}

// CoordinatorConfig configures read batching.
type CoordinatorConfig struct {
	// Debounce is the coalescing window for individual reads.
	Debounce time.Duration

	// MaxBatch sends a batch early once it holds this many ids.
	MaxBatch int

	Clock clockwork.Clock

	// OnError receives failures of batched reads, which have no caller to return to.
	OnError func(*ReadError)
}

// Coordinator batches read mutations and reconciles the Store's optimistic
// read flags with the server's answer.
type Coordinator struct {
	store   *Store
	api     ReadAPI
	batcher *scheduler.Batcher
	onError func(*ReadError)
	logger  *logger.Logger
}

// NewCoordinator creates a coordinator over store and api.
func NewCoordinator(store *Store, api ReadAPI, cfg CoordinatorConfig, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		store:   store,
		api:     api,
		onError: cfg.OnError,
		logger:  log.WithComponent("read_coordinator"),
	}
	c.batcher = scheduler.NewBatcher(scheduler.Options{
		Window:  cfg.Debounce,
		MaxSize: cfg.MaxBatch,
		Clock:   cfg.Clock,
	}, c.sendBatch)
	return c
}

// MarkRead flips id to read now and queues the server mutation. It reports
// whether anything changed; an unknown or already read id is a no-op.
func (c *Coordinator) MarkRead(id string) bool {
	if !c.store.MarkRead(id) {
		return false
	}
	c.batcher.Enqueue(id)
	return true
}

// MarkAllRead flips every entry and sends read-all immediately, outside the
// batch. On success the pending batch is discarded and only the ids covered
// when the request went out are confirmed; pushes that arrived meanwhile stay
// unread. On failure only the ids this call flipped are rolled back.
func (c *Coordinator) MarkAllRead(ctx context.Context) error {
	flipped := c.store.MarkAllRead()
	covered := c.batcher.Pending()

	if err := c.api.MarkAllRead(ctx); err != nil {
		c.store.RevertRead(flipped...)
		metrics.ReadBatches.WithLabelValues("failed").Inc()
		c.logger.Warn("mark all read failed", "reverted", len(flipped), "error", err)
		return &ReadError{IDs: flipped, All: true, Err: err, retry: c.MarkAllRead}
	}

	discarded := 0
	for _, id := range covered {
		if c.batcher.Remove(id) {
			discarded++
		}
	}
	c.store.ConfirmRead(append(flipped, covered...)...)
	metrics.ReadBatches.WithLabelValues("sent").Inc()
	c.logger.Debug("marked all read", "flipped", len(flipped), "discarded", discarded)
	return nil
}

// Forget drops id from the pending batch, e.g. after it was deleted.
func (c *Coordinator) Forget(id string) {
	c.batcher.Remove(id)
}

// Pending returns ids waiting for the next batch.
func (c *Coordinator) Pending() []string {
	return c.batcher.Pending()
}

// Flush sends the pending batch now.
func (c *Coordinator) Flush() {
	c.batcher.Flush()
}

// Close sends what is pending and waits for in-flight batches.
func (c *Coordinator) Close() {
	c.batcher.Close()
}

func (c *Coordinator) sendBatch(ctx context.Context, ids []string) {
	err := c.send(ctx, ids)
	if err == nil {
		return
	}
	c.logger.Warn("read batch failed", "ids", ids, "error", err)
	if c.onError != nil {
		c.onError(err)
	}
}

// send delivers one batch and settles the store. It returns nil or *ReadError.
func (c *Coordinator) send(ctx context.Context, ids []string) *ReadError {
	if err := c.api.MarkRead(ctx, ids); err != nil {
		c.store.RevertRead(ids...)
		metrics.ReadBatches.WithLabelValues("failed").Inc()
		return &ReadError{IDs: ids, Err: err, retry: func(ctx context.Context) error {
			return c.retry(ctx, ids)
		}}
	}
	c.store.ConfirmRead(ids...)
	metrics.ReadBatches.WithLabelValues("sent").Inc()
	return nil
}

func (c *Coordinator) retry(ctx context.Context, ids []string) error {
	var live []string
	for _, id := range ids {
		if c.store.MarkRead(id) {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if rerr := c.send(ctx, live); rerr != nil {
		return rerr
	}
	return nil
}
