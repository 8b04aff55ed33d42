package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/persist"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) (database.Vector, error) {
	return database.Vector{0.1, 0.2, 0.3}, nil
}

// fakeSearcher serves candidates from in-memory slices.
type fakeSearcher struct {
	mu        sync.Mutex
	events    []models.MatchCandidate
	companies []models.MatchCandidate
}

func (f *fakeSearcher) SimilarEvents(_ context.Context, _ database.Vector, _ int) ([]models.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MatchCandidate(nil), f.events...), nil
}

func (f *fakeSearcher) SimilarCompanies(_ context.Context, _ database.Vector, _ int) ([]models.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MatchCandidate(nil), f.companies...), nil
}

// fakeGuard emulates the database uniqueness key with a mutex-guarded map.
type fakeGuard struct {
	mu      sync.Mutex
	byKey   map[string]*models.Company
	creates int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{byKey: map[string]*models.Company{}}
}

func (g *fakeGuard) CreateOrGet(_ context.Context, c *models.Company) (*models.Company, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := c.Name + "|" + c.Ticker
	if existing, ok := g.byKey[key]; ok {
		return existing, false, nil
	}

	stored := *c
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	g.byKey[key] = &stored
	g.creates++
	return &stored, true, nil
}

// memoryStore records batched ops without a database.
type memoryStore struct {
	mu            sync.Mutex
	createdEvents []*models.Event
	patchedEvents []persist.EntityPatch
	patchedComps  []persist.EntityPatch
	createdComps  []*models.Company
}

func (m *memoryStore) CreateEvents(_ context.Context, events []*models.Event) ([]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdEvents = append(m.createdEvents, events...)
	return make([]error, len(events)), nil
}

func (m *memoryStore) PatchEvents(_ context.Context, patches []persist.EntityPatch) ([]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchedEvents = append(m.patchedEvents, patches...)
	return make([]error, len(patches)), nil
}

func (m *memoryStore) CreateCompanies(_ context.Context, companies []*models.Company) ([]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdComps = append(m.createdComps, companies...)
	return make([]error, len(companies)), nil
}

func (m *memoryStore) PatchCompanies(_ context.Context, patches []persist.EntityPatch) ([]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchedComps = append(m.patchedComps, patches...)
	return make([]error, len(patches)), nil
}

type capturedOutcomes struct {
	mu       sync.Mutex
	outcomes []models.ResolutionOutcome
}

func (c *capturedOutcomes) PublishOutcomes(_ context.Context, outcomes []models.ResolutionOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcomes...)
	return nil
}

type testHarness struct {
	service  *Service
	searcher *fakeSearcher
	guard    *fakeGuard
	store    *memoryStore
	batcher  *persist.Batcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	searcher := &fakeSearcher{}
	guard := newFakeGuard()
	store := &memoryStore{}

	log := logger.NewNop()
	batcherCfg := persist.DefaultConfig()
	batcherCfg.RetryBaseDelay = time.Millisecond
	batcher := persist.NewBatcher(log, store, batcherCfg)

	engine := matching.NewEngine(log, searcher, matching.DefaultConfig())
	evaluator := matching.NewEvaluator(matching.DefaultConfig().SimilarityFloor)
	merger := merging.NewResolver(log)

	service := New(log, engine, evaluator, merger, batcher, guard, nil, fakeEmbedder{}, nil, DefaultConfig())

	return &testHarness{
		service:  service,
		searcher: searcher,
		guard:    guard,
		store:    store,
		batcher:  batcher,
	}
}

func TestResolveCompany_CreatesUnknown(t *testing.T) {
	h := newHarness(t)

	outcome, stored, err := h.service.ResolveCompany(context.Background(), &models.RawCompany{
		Name:       "acme corp",
		Ticker:     "acme",
		Confidence: 0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OpCreate, outcome.Operation)
	assert.Equal(t, "Acme Corp", stored.Name)
	assert.Equal(t, "ACME", stored.Ticker)
	assert.NotEmpty(t, stored.ID)
}

func TestResolveCompany_RejectsInvalid(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.service.ResolveCompany(context.Background(), &models.RawCompany{
		Name:       "",
		Confidence: 0.9,
	})

	var malformed *models.MalformedInputError
	require.ErrorAs(t, err, &malformed)
}

func TestResolveCompany_MatchProducesUpdate(t *testing.T) {
	h := newHarness(t)

	h.searcher.companies = []models.MatchCandidate{{
		Kind:  models.KindCompany,
		Score: 0.9,
		Company: &models.Company{
			ID:            "co-1",
			Name:          "Acme Corp",
			Ticker:        models.TickerPrivate,
			ParentCompany: "Acme Corp",
			Sector:        models.SectorOther,
		},
	}}

	outcome, stored, err := h.service.ResolveCompany(context.Background(), &models.RawCompany{
		Name:       "Acme Corp",
		Ticker:     "ACME",
		IsPublic:   true,
		Confidence: 0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OpUpdate, outcome.Operation)
	assert.Equal(t, "co-1", stored.ID)
	assert.Equal(t, 0, h.guard.creates)
	require.NotEmpty(t, outcome.Diffs, "the outcome carries the field-level decisions")
	assert.Equal(t, "ticker", outcome.Diffs[0].Field)

	_, err = h.batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, h.store.patchedComps, 1)
	assert.Equal(t, "ACME", h.store.patchedComps[0].Patch["ticker"])
}

func TestResolveCompany_ConcurrentCreatorsConverge(t *testing.T) {
	h := newHarness(t)

	const creators = 50
	var wg sync.WaitGroup
	outcomes := make([]*models.ResolutionOutcome, creators)

	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, _, err := h.service.ResolveCompany(context.Background(), &models.RawCompany{
				Name:       "Acme Corp",
				Ticker:     "ACME",
				Confidence: 0.9,
			})
			require.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	created := 0
	ids := map[string]struct{}{}
	for _, o := range outcomes {
		if o.Operation == models.OpCreate {
			created++
		}
		ids[o.EntityID] = struct{}{}
	}

	assert.Equal(t, 1, created, "exactly one creator wins the race")
	assert.Len(t, ids, 1, "all racers converge on the same stored id")
	assert.Equal(t, 1, h.guard.creates)
}

func extractionWith(events []models.RawEvent, companies []models.RawCompany) *kafka.ExtractionMessage {
	return &kafka.ExtractionMessage{
		DocumentID:  "doc-1",
		Source:      "10-K",
		ExtractedAt: time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC),
		Events:      events,
		Companies:   companies,
	}
}

func TestProcessExtraction_CreatesCompanyThenEvent(t *testing.T) {
	h := newHarness(t)
	publisher := &capturedOutcomes{}
	h.service.publisher = publisher

	msg := extractionWith(
		[]models.RawEvent{{
			Name:       "Q3 Earnings Call",
			DateText:   "Q3 2025",
			Category:   "earnings_call",
			Companies:  []string{"Acme Corp"},
			Source:     "doc-1",
			Confidence: 0.9,
		}},
		[]models.RawCompany{{
			Name:       "Acme Corp",
			Ticker:     "ACME",
			Confidence: 0.9,
		}},
	)

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err := h.batcher.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, h.store.createdEvents, 1)
	created := h.store.createdEvents[0]
	assert.Equal(t, "Q3 Earnings Call", created.Name)
	assert.Equal(t, models.CategoryEarningsCall, created.Category)
	assert.Equal(t, models.PrecisionQuarterYear, created.DatePrecision)
	require.Len(t, created.CompanyIDs, 1)

	require.Len(t, publisher.outcomes, 2)
	assert.Equal(t, models.KindCompany, publisher.outcomes[0].Kind)
	assert.Equal(t, models.KindEvent, publisher.outcomes[1].Kind)
}

func TestProcessExtraction_MatchedEventUpdates(t *testing.T) {
	h := newHarness(t)

	// seed the guard so the company resolves to a known id
	stored, _, err := h.guard.CreateOrGet(context.Background(), &models.Company{Name: "Acme Corp", Ticker: "ACME"})
	require.NoError(t, err)

	date := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	h.searcher.events = []models.MatchCandidate{{
		Kind:  models.KindEvent,
		Score: 0.9,
		Event: &models.Event{
			ID:            "evt-1",
			Name:          "Q3 Earnings Call",
			Description:   "Call",
			EventDate:     &date,
			DatePrecision: models.PrecisionMonthYear,
			Category:      models.CategoryEarningsCall,
			CompanyIDs:    []string{stored.ID},
			Confidence:    0.5,
		},
	}}

	msg := extractionWith(
		[]models.RawEvent{{
			Name:       "Q3 Earnings Call",
			DateText:   "July 24, 2025",
			Category:   "earnings_call",
			Companies:  []string{"Acme Corp"},
			Source:     "doc-2",
			Confidence: 0.9,
		}},
		[]models.RawCompany{{
			Name:       "Acme Corp",
			Ticker:     "ACME",
			Confidence: 0.9,
		}},
	)

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err = h.batcher.Flush(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.store.createdEvents)
	require.Len(t, h.store.patchedEvents, 1)
	patch := h.store.patchedEvents[0]
	assert.Equal(t, "evt-1", patch.EntityID)
	assert.Equal(t, models.PrecisionDate, patch.Patch["date_precision"])

	snapshot := h.service.Stats().Snapshot()
	assert.Equal(t, 1, snapshot.EventsUpdated)
}

func TestProcessExtraction_AliasedCompanyNameStillResolvesEvents(t *testing.T) {
	h := newHarness(t)

	// stored under a different spelling than the document uses
	h.searcher.companies = []models.MatchCandidate{{
		Kind:  models.KindCompany,
		Score: 0.9,
		Company: &models.Company{
			ID:            "co-1",
			Name:          "Xp Inc",
			Ticker:        "XP",
			IsPublic:      true,
			ParentCompany: "Xp Inc",
			Sector:        models.SectorTechnology,
		},
	}}

	msg := extractionWith(
		[]models.RawEvent{{
			Name:       "Investor Day",
			DateText:   "2025-10-02",
			Category:   "investor_conference",
			Companies:  []string{"XP Inc."},
			Source:     "doc-9",
			Confidence: 0.9,
		}},
		[]models.RawCompany{{
			Name:       "XP Inc.",
			Ticker:     "XP",
			IsPublic:   true,
			Confidence: 0.9,
		}},
	)

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err := h.batcher.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, h.store.createdEvents, 1)
	assert.Equal(t, []string{"co-1"}, []string(h.store.createdEvents[0].CompanyIDs))
}

func TestProcessExtraction_EventSourceDefaultsToDocument(t *testing.T) {
	h := newHarness(t)

	msg := extractionWith(
		[]models.RawEvent{{
			Name:       "Annual Shareholder Meeting",
			DateText:   "2025-05-20",
			Category:   "other",
			Companies:  []string{"Acme Corp"},
			Confidence: 0.9,
		}},
		[]models.RawCompany{{
			Name:       "Acme Corp",
			Ticker:     "ACME",
			IsPublic:   true,
			Confidence: 0.9,
		}},
	)

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err := h.batcher.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, h.store.createdEvents, 1)
	assert.Equal(t, "doc-1", h.store.createdEvents[0].Source)
}

func TestProcessExtraction_MalformedEventIsSkipped(t *testing.T) {
	h := newHarness(t)

	msg := extractionWith(
		[]models.RawEvent{
			{
				Name:       "Vague Event",
				DateText:   "sometime soon",
				Companies:  []string{"Acme Corp"},
				Source:     "doc-1",
				Confidence: 0.9,
			},
			{
				Name:       "Concrete Event",
				DateText:   "2025-06-10",
				Companies:  []string{"Acme Corp"},
				Source:     "doc-1",
				Confidence: 0.9,
			},
		},
		[]models.RawCompany{{
			Name:       "Acme Corp",
			Confidence: 0.9,
		}},
	)

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err := h.batcher.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, h.store.createdEvents, 1)
	assert.Equal(t, "Concrete Event", h.store.createdEvents[0].Name)
}

func TestResolveEvent_UnresolvableCompanyRejected(t *testing.T) {
	h := newHarness(t)

	msg := extractionWith(nil, nil)
	_, err := h.service.ResolveEvent(context.Background(), &models.RawEvent{
		Name:       "Orphan Event",
		Companies:  []string{"Nobody Inc"},
		Source:     "doc-1",
		Confidence: 0.9,
	}, msg, map[string]string{}, time.Now())

	var malformed *models.MalformedInputError
	require.ErrorAs(t, err, &malformed)
}

func TestResolveEventNames(t *testing.T) {
	// company name lookup is normalization-insensitive
	h := newHarness(t)

	stored, _, err := h.guard.CreateOrGet(context.Background(), &models.Company{Name: "Acme Corp", Ticker: "ACME"})
	require.NoError(t, err)

	msg := extractionWith(nil, nil)
	outcome, err := h.service.ResolveEvent(context.Background(), &models.RawEvent{
		Name:       "Launch Day",
		DateText:   "2025-09-01",
		Category:   "product_launch",
		Companies:  []string{"ACME CORP"},
		Source:     "doc-1",
		Confidence: 0.8,
	}, msg, map[string]string{"acme corp": stored.ID}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.OpCreate, outcome.Operation)
}

func TestProcessExtraction_DuplicateEventsInOneMessage(t *testing.T) {
	h := newHarness(t)

	events := make([]models.RawEvent, 5)
	for i := range events {
		events[i] = models.RawEvent{
			Name:       "Annual Shareholder Meeting",
			DateText:   "2025-05-01",
			Category:   "other",
			Companies:  []string{"Acme Corp"},
			Source:     fmt.Sprintf("doc-%d", i),
			Confidence: 0.9,
		}
	}

	msg := extractionWith(events, []models.RawCompany{{Name: "Acme Corp", Confidence: 0.9}})

	require.NoError(t, h.service.ProcessExtraction(context.Background(), msg))

	_, err := h.batcher.Flush(context.Background())
	require.NoError(t, err)

	// without a uniqueness key the store may end up with duplicates; the
	// identity lock only serializes creates, it cannot see unflushed rows
	assert.NotEmpty(t, h.store.createdEvents)
}
