package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeStore struct {
	mu             sync.Mutex
	createdEvents  []*models.Event
	patchedEvents  []EntityPatch
	createdComps   []*models.Company
	patchedComps   []EntityPatch
	failWholesale  int // fail this many calls entirely before succeeding
	failItemIndex  int // index within a call to fail, -1 for none
	wholesaleCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{failItemIndex: -1}
}

func (f *fakeStore) fail() error {
	f.wholesaleCalls++
	if f.wholesaleCalls <= f.failWholesale {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeStore) itemErrs(n int) []error {
	if f.failItemIndex < 0 || f.failItemIndex >= n {
		return make([]error, n)
	}
	errs := make([]error, n)
	errs[f.failItemIndex] = fmt.Errorf("item %d rejected", f.failItemIndex)
	return errs
}

func (f *fakeStore) CreateEvents(_ context.Context, events []*models.Event) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.createdEvents = append(f.createdEvents, events...)
	return f.itemErrs(len(events)), nil
}

func (f *fakeStore) PatchEvents(_ context.Context, patches []EntityPatch) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.patchedEvents = append(f.patchedEvents, patches...)
	return f.itemErrs(len(patches)), nil
}

func (f *fakeStore) CreateCompanies(_ context.Context, companies []*models.Company) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.createdComps = append(f.createdComps, companies...)
	return f.itemErrs(len(companies)), nil
}

func (f *fakeStore) PatchCompanies(_ context.Context, patches []EntityPatch) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.patchedComps = append(f.patchedComps, patches...)
	return f.itemErrs(len(patches)), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func createOp(id string) Op {
	return Op{
		Kind:      models.KindEvent,
		Operation: models.OpCreate,
		Event:     &models.Event{ID: id},
	}
}

func TestFlushGroupsOps(t *testing.T) {
	store := newFakeStore()
	b := NewBatcher(logger.NewNop(), store, testConfig())
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, createOp("e1")))
	require.NoError(t, b.Submit(ctx, Op{Kind: models.KindEvent, Operation: models.OpUpdate, EntityID: "e2", Patch: models.Patch{"confirmed": true}}))
	require.NoError(t, b.Submit(ctx, Op{Kind: models.KindCompany, Operation: models.OpCreate, Company: &models.Company{ID: "c1"}}))
	require.NoError(t, b.Submit(ctx, Op{Kind: models.KindEvent, Operation: models.OpNoOp, EntityID: "e3"}))

	stats, err := b.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.FlushStats{Created: 2, Updated: 1, NoOps: 1}, stats)
	assert.Len(t, store.createdEvents, 1)
	assert.Len(t, store.patchedEvents, 1)
	assert.Len(t, store.createdComps, 1)
	assert.Equal(t, 0, b.Pending())
}

func TestFlushEmptyQueue(t *testing.T) {
	b := NewBatcher(logger.NewNop(), newFakeStore(), testConfig())

	stats, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.FlushStats{}, stats)
}

func TestAutoFlushAtBatchSize(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.MaxBatchSize = 5
	b := NewBatcher(logger.NewNop(), store, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Submit(ctx, createOp(fmt.Sprintf("e%d", i))))
	}

	assert.Equal(t, 0, b.Pending())
	assert.Len(t, store.createdEvents, 5)
}

func TestPerItemFailure(t *testing.T) {
	store := newFakeStore()
	store.failItemIndex = 1
	b := NewBatcher(logger.NewNop(), store, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Submit(ctx, createOp(fmt.Sprintf("e%d", i))))
	}

	stats, err := b.Flush(ctx)

	var partial *models.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failed, 1)
	item := partial.Failed[0]
	assert.Equal(t, "e1", item.EntityID)
	assert.Equal(t, models.OpCreate, item.Operation)
	require.NotNil(t, item.Event, "the failed record rides along for retry")
	assert.Equal(t, "e1", item.Event.ID)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Failed)
}

func TestPerItemFailureOnPatch(t *testing.T) {
	store := newFakeStore()
	store.failItemIndex = 0
	b := NewBatcher(logger.NewNop(), store, testConfig())
	ctx := context.Background()

	patch := models.Patch{"confirmed": true}
	require.NoError(t, b.Submit(ctx, Op{Kind: models.KindEvent, Operation: models.OpUpdate, EntityID: "e9", Patch: patch}))

	_, err := b.Flush(ctx)

	var partial *models.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failed, 1)
	assert.Equal(t, "e9", partial.Failed[0].EntityID)
	assert.Equal(t, models.OpUpdate, partial.Failed[0].Operation)
	assert.Equal(t, patch, partial.Failed[0].Patch)
}

func TestWholesaleFailureRetriesThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.failWholesale = 2
	b := NewBatcher(logger.NewNop(), store, testConfig())
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, createOp("e1")))

	stats, err := b.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 3, store.wholesaleCalls)
}

func TestStoreUnavailableAfterMaxRetries(t *testing.T) {
	store := newFakeStore()
	store.failWholesale = 100
	cfg := testConfig()
	cfg.MaxRetries = 2
	b := NewBatcher(logger.NewNop(), store, cfg)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, createOp("e1")))

	stats, err := b.Flush(ctx)

	var partial *models.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failed, 1)
	assert.ErrorIs(t, partial.Failed[0].Err, models.ErrStoreUnavailable)
	assert.Equal(t, 1, stats.Failed)
}

func TestSubmitBackpressure(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.MaxBatchSize = 1000 // above the cap so Submit never auto-flushes
	cfg.HardCap = 3
	b := NewBatcher(logger.NewNop(), store, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Submit(ctx, createOp(fmt.Sprintf("e%d", i))))
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- b.Submit(ctx, createOp("blocked"))
	}()

	select {
	case <-unblocked:
		t.Fatal("Submit returned while queue was at the hard cap")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := b.Flush(ctx)
	require.NoError(t, err)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Submit did not unblock after flush")
	}
}

func TestSubmitCancelledWhileBlocked(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1000
	cfg.HardCap = 1
	b := NewBatcher(logger.NewNop(), newFakeStore(), cfg)

	require.NoError(t, b.Submit(context.Background(), createOp("e0")))

	ctx, cancel := context.WithCancel(context.Background())
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- b.Submit(ctx, createOp("blocked"))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-unblocked:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Submit did not observe cancellation")
	}

	// the cancelled op was never queued
	assert.Equal(t, 1, b.Pending())
}

func TestConcurrentSubmitLosesNothing(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.MaxBatchSize = 25
	b := NewBatcher(logger.NewNop(), store, cfg)
	ctx := context.Background()

	const producers = 10
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = b.Submit(ctx, createOp(fmt.Sprintf("p%d-e%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	_, err := b.Flush(ctx)
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.createdEvents, producers*perProducer)
	assert.Equal(t, 0, b.Pending())
}
