// Package persist batches resolution ops and flushes them to the store in
// bulk, with per-item failure reporting and bounded retries.
package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// EntityPatch pairs a stored entity id with its minimal patch.
type EntityPatch struct {
	EntityID string
	Patch    models.Patch
}

// Op is one queued persistence operation. NoOps are queued for accounting
// only and never reach the store.
type Op struct {
	Kind      models.EntityKind
	Operation models.Operation
	Event     *models.Event
	Company   *models.Company
	EntityID  string
	Patch     models.Patch
	Conflicts int
}

// Store is the bulk persistence collaborator. The error slice is parallel to
// the input and holds per-item failures; the single error reports a wholesale
// statement failure the batcher may retry.
type Store interface {
	CreateEvents(ctx context.Context, events []*models.Event) ([]error, error)
	PatchEvents(ctx context.Context, patches []EntityPatch) ([]error, error)
	CreateCompanies(ctx context.Context, companies []*models.Company) ([]error, error)
	PatchCompanies(ctx context.Context, patches []EntityPatch) ([]error, error)
}

// Config contains batcher tuning knobs
type Config struct {
	MaxBatchSize   int           // Queue size that triggers an automatic flush (default: 100)
	HardCap        int           // Pending ops beyond which Submit blocks (default: 10000)
	MaxRetries     int           // Retry attempts per bulk statement (default: 5)
	RetryBaseDelay time.Duration // Unit of the fibonacci backoff sequence (default: 1s)
	FlushInterval  time.Duration // Periodic flush tick for Run (default: 5s)
}

// DefaultConfig returns default batcher configuration
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   100,
		HardCap:        10000,
		MaxRetries:     5,
		RetryBaseDelay: time.Second,
		FlushInterval:  5 * time.Second,
	}
}

// Batcher queues ops and persists them in grouped bulk statements. The queue
// is the only shared mutable state and is guarded by mu.
type Batcher struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	queue    []Op
	flushing sync.Mutex

	store   Store
	logger  logger.Logger
	config  Config
	onFlush func(models.FlushStats)
}

// OnFlush registers a callback invoked after every non-empty flush. It must
// be set before the batcher starts receiving ops.
func (b *Batcher) OnFlush(fn func(models.FlushStats)) {
	b.onFlush = fn
}

// NewBatcher creates a batch persister
func NewBatcher(logger logger.Logger, store Store, config Config) *Batcher {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	// a cap below MaxBatchSize is honored as configured: the queue stays
	// bounded at the cap and the interval flush drains it
	if config.HardCap <= 0 {
		config.HardCap = DefaultConfig().HardCap
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}

	b := &Batcher{
		store:  store,
		logger: logger,
		config: config,
	}
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Submit queues one op. It blocks while the queue is at the hard cap so a
// slow store applies backpressure to producers instead of growing the heap.
// Reaching MaxBatchSize triggers a flush on the submitting goroutine.
func (b *Batcher) Submit(ctx context.Context, op Op) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	for len(b.queue) >= b.config.HardCap {
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return err
		}
		b.notFull.Wait()
	}
	b.queue = append(b.queue, op)
	metrics.QueueDepth.Set(float64(len(b.queue)))
	shouldFlush := len(b.queue) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		if _, err := b.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the current queue depth.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run flushes on an interval until the context is cancelled, then performs a
// final drain.
func (b *Batcher) Run(ctx context.Context) {
	interval := b.config.FlushInterval
	if interval <= 0 {
		interval = DefaultConfig().FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := b.Flush(context.Background()); err != nil {
				b.logger.WithError(err).Error("Final flush failed")
			}
			return
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil {
				b.logger.WithContext(ctx).WithError(err).Error("Periodic flush failed")
			}
		}
	}
}

// Flush drains the queue and persists everything in grouped bulk statements.
// Item failures are collected into a PartialBatchError; the successful items
// stay persisted.
func (b *Batcher) Flush(ctx context.Context) (models.FlushStats, error) {
	ctx, span := tracing.StartSpan(ctx, "persist.Batcher.Flush")
	defer span.End()

	// one flush at a time; concurrent callers queue up behind it
	b.flushing.Lock()
	defer b.flushing.Unlock()

	b.mu.Lock()
	ops := b.queue
	b.queue = nil
	b.notFull.Broadcast()
	b.mu.Unlock()

	metrics.QueueDepth.Set(0)

	if len(ops) == 0 {
		return models.FlushStats{}, nil
	}

	flushStart := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(flushStart).Seconds())
	}()

	stats := models.FlushStats{}
	var failed []models.FailedItem

	groups := groupOps(ops)

	for _, g := range groups {
		itemErrs, err := b.applyWithRetry(ctx, g)
		for i, op := range g.ops {
			if err != nil {
				stats.Failed++
				failed = append(failed, failedItem(op, err))
				continue
			}
			if itemErrs != nil && itemErrs[i] != nil {
				stats.Failed++
				failed = append(failed, failedItem(op, itemErrs[i]))
				continue
			}
			switch op.op.Operation {
			case models.OpCreate:
				stats.Created++
			case models.OpUpdate:
				stats.Updated++
			}
			stats.Conflicts += op.op.Conflicts
		}
	}

	for _, op := range ops {
		if op.Operation == models.OpNoOp {
			stats.NoOps++
			stats.Conflicts += op.Conflicts
		}
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"created": stats.Created,
		"updated": stats.Updated,
		"noops":   stats.NoOps,
		"failed":  stats.Failed,
	}).Debug("Flushed batch")

	metrics.BatchItemsTotal.WithLabelValues("created").Add(float64(stats.Created))
	metrics.BatchItemsTotal.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.BatchItemsTotal.WithLabelValues("noop").Add(float64(stats.NoOps))
	metrics.BatchItemsTotal.WithLabelValues("failed").Add(float64(stats.Failed))

	if b.onFlush != nil {
		b.onFlush(stats)
	}

	if len(failed) > 0 {
		return stats, &models.PartialBatchError{Failed: failed}
	}
	return stats, nil
}

type indexedOp struct {
	index int
	op    Op
}

// failedItem preserves the op as submitted so the caller can retry it. Create
// ops carry their id on the record itself.
func failedItem(op indexedOp, err error) models.FailedItem {
	entityID := op.op.EntityID
	if entityID == "" {
		switch {
		case op.op.Event != nil:
			entityID = op.op.Event.ID
		case op.op.Company != nil:
			entityID = op.op.Company.ID
		}
	}
	return models.FailedItem{
		Index:     op.index,
		Kind:      op.op.Kind,
		Operation: op.op.Operation,
		EntityID:  entityID,
		Event:     op.op.Event,
		Company:   op.op.Company,
		Patch:     op.op.Patch,
		Err:       err,
	}
}

type opGroup struct {
	kind      models.EntityKind
	operation models.Operation
	ops       []indexedOp
}

// groupOps splits the drained queue into one bulk statement per
// (collection, operation) pair, preserving submission order within each.
func groupOps(ops []Op) []*opGroup {
	byKey := map[string]*opGroup{}
	var ordered []*opGroup

	for i, op := range ops {
		if op.Operation == models.OpNoOp {
			continue
		}
		key := string(op.Kind) + "/" + string(op.Operation)
		g, ok := byKey[key]
		if !ok {
			g = &opGroup{kind: op.Kind, operation: op.Operation}
			byKey[key] = g
			ordered = append(ordered, g)
		}
		g.ops = append(g.ops, indexedOp{index: i, op: op})
	}

	return ordered
}

// applyWithRetry executes one bulk statement, retrying wholesale failures
// with fibonacci backoff. Per-item failures are never retried here; the
// caller gets them back in the PartialBatchError.
func (b *Batcher) applyWithRetry(ctx context.Context, g *opGroup) ([]error, error) {
	var itemErrs []error
	var err error

	a, next := 1, 1
	for attempt := 0; ; attempt++ {
		itemErrs, err = b.apply(ctx, g)
		if err == nil {
			return itemErrs, nil
		}

		if attempt >= b.config.MaxRetries {
			b.logger.WithContext(ctx).WithError(err).Errorf("Bulk %s %s failed after %d attempts", g.operation, g.kind, attempt+1)
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}

		wait := time.Duration(a) * b.config.RetryBaseDelay
		b.logger.WithContext(ctx).WithError(err).Warnf("Bulk %s %s failed, retrying in %v", g.operation, g.kind, wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		a, next = next, a+next
	}
}

func (b *Batcher) apply(ctx context.Context, g *opGroup) ([]error, error) {
	switch {
	case g.kind == models.KindEvent && g.operation == models.OpCreate:
		events := make([]*models.Event, len(g.ops))
		for i, op := range g.ops {
			events[i] = op.op.Event
		}
		return b.store.CreateEvents(ctx, events)
	case g.kind == models.KindEvent && g.operation == models.OpUpdate:
		return b.store.PatchEvents(ctx, patches(g.ops))
	case g.kind == models.KindCompany && g.operation == models.OpCreate:
		companies := make([]*models.Company, len(g.ops))
		for i, op := range g.ops {
			companies[i] = op.op.Company
		}
		return b.store.CreateCompanies(ctx, companies)
	case g.kind == models.KindCompany && g.operation == models.OpUpdate:
		return b.store.PatchCompanies(ctx, patches(g.ops))
	}
	return nil, fmt.Errorf("unsupported op group %s/%s", g.kind, g.operation)
}

func patches(ops []indexedOp) []EntityPatch {
	out := make([]EntityPatch, len(ops))
	for i, op := range ops {
		out[i] = EntityPatch{EntityID: op.op.EntityID, Patch: op.op.Patch}
	}
	return out
}
