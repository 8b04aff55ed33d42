// Package resolver drives per-record resolution: validate, normalize, embed,
// match, evaluate, merge, and hand the decision to the batch persister.
package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalize"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Embedder computes the vector for a record's text. The computation itself
// lives outside this service.
type Embedder interface {
	Embed(ctx context.Context, text string) (database.Vector, error)
}

// CompanyGuard is the atomic create-or-get against the company uniqueness key.
type CompanyGuard interface {
	CreateOrGet(ctx context.Context, company *models.Company) (*models.Company, bool, error)
}

// Locker serializes event creation per identity key. The redis locker
// implements it; tests use a pass-through.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// OutcomePublisher emits resolution outcomes downstream.
type OutcomePublisher interface {
	PublishOutcomes(ctx context.Context, outcomes []models.ResolutionOutcome) error
}

// Publishers fans outcomes out to every configured sink in order. A sink
// failure aborts the message so it is redelivered.
type Publishers []OutcomePublisher

func (p Publishers) PublishOutcomes(ctx context.Context, outcomes []models.ResolutionOutcome) error {
	for _, pub := range p {
		if err := pub.PublishOutcomes(ctx, outcomes); err != nil {
			return err
		}
	}
	return nil
}

// Config contains resolver tuning knobs
type Config struct {
	Workers int           // Concurrent event workers per message (default: 4)
	TopK    int           // Candidates requested per record (default: 5)
	LockTTL time.Duration // Create-window lock TTL (default: 10s)
}

// DefaultConfig returns default resolver configuration
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		TopK:    5,
		LockTTL: 10 * time.Second,
	}
}

// Service resolves extracted records against the store.
type Service struct {
	logger    logger.Logger
	validate  *validator.Validate
	engine    *matching.Engine
	evaluator *matching.Evaluator
	merger    *merging.Resolver
	batcher   *persist.Batcher
	companies CompanyGuard
	locker    Locker
	embedder  Embedder
	publisher OutcomePublisher
	config    Config
	stats     *Stats
}

// New creates a resolver service. publisher may be nil when no outcome topic
// is configured.
func New(
	logger logger.Logger,
	engine *matching.Engine,
	evaluator *matching.Evaluator,
	merger *merging.Resolver,
	batcher *persist.Batcher,
	companies CompanyGuard,
	locker Locker,
	embedder Embedder,
	publisher OutcomePublisher,
	config Config,
) *Service {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultConfig().LockTTL
	}
	if locker == nil {
		locker = passThroughLocker{}
	}

	return &Service{
		logger:    logger,
		validate:  validator.New(),
		engine:    engine,
		evaluator: evaluator,
		merger:    merger,
		batcher:   batcher,
		companies: companies,
		locker:    locker,
		embedder:  embedder,
		publisher: publisher,
		config:    config,
		stats:     NewStats(),
	}
}

// Stats exposes the aggregate resolution counters.
func (s *Service) Stats() *Stats {
	return s.stats
}

// HandleMessage is the Kafka consumer entry point.
func (s *Service) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	if msg.Extraction == nil {
		return nil
	}
	return s.ProcessExtraction(ctx, msg.Extraction)
}

// ProcessExtraction resolves every record in one extraction message.
// Companies resolve first so events can reference their stored ids. Malformed
// records are rejected and counted, never retried; infrastructure errors
// propagate so the message is redelivered.
func (s *Service) ProcessExtraction(ctx context.Context, extraction *kafka.ExtractionMessage) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ProcessExtraction")
	defer span.End()

	log := s.logger.WithContext(ctx).WithField("document_id", extraction.DocumentID)

	reference := extraction.ExtractedAt
	if reference.IsZero() {
		reference = time.Now().UTC()
	}

	var outcomes []models.ResolutionOutcome

	companyIDs := make(map[string]string, len(extraction.Companies))
	for i := range extraction.Companies {
		outcome, company, err := s.ResolveCompany(ctx, &extraction.Companies[i])
		if err != nil {
			if isDataError(err) {
				log.WithError(err).Warn("Rejected company record")
				metrics.RecordsRejectedTotal.WithLabelValues(string(models.KindCompany), "invalid").Inc()
				continue
			}
			return err
		}
		// a matched record may be stored under a different spelling, so
		// events get to reference either the extracted or the stored name
		companyIDs[strings.ToLower(normalize.CompanyName(extraction.Companies[i].Name))] = company.ID
		companyIDs[strings.ToLower(company.Name)] = company.ID
		outcomes = append(outcomes, *outcome)
	}

	eventOutcomes, err := s.resolveEvents(ctx, extraction, companyIDs, reference)
	if err != nil {
		return err
	}
	outcomes = append(outcomes, eventOutcomes...)

	for i := range outcomes {
		s.stats.Record(outcomes[i])
		metrics.RecordsResolvedTotal.WithLabelValues(string(outcomes[i].Kind), string(outcomes[i].Operation)).Inc()
	}

	if s.publisher != nil && len(outcomes) > 0 {
		if err := s.publisher.PublishOutcomes(ctx, outcomes); err != nil {
			return err
		}
	}

	log.WithFields(map[string]any{
		"companies": len(extraction.Companies),
		"events":    len(extraction.Events),
		"resolved":  len(outcomes),
	}).Info("Processed extraction")
	return nil
}

// resolveEvents fans the message's events across workers. Each worker submits
// its own records in order; there is no cross-worker ordering.
func (s *Service) resolveEvents(ctx context.Context, extraction *kafka.ExtractionMessage, companyIDs map[string]string, reference time.Time) ([]models.ResolutionOutcome, error) {
	if len(extraction.Events) == 0 {
		return nil, nil
	}

	jobs := make(chan int)
	results := make([]*models.ResolutionOutcome, len(extraction.Events))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := s.config.Workers
	if workers > len(extraction.Events) {
		workers = len(extraction.Events)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				raw := &extraction.Events[i]
				outcome, err := s.ResolveEvent(ctx, raw, extraction, companyIDs, reference)
				if err != nil {
					if isDataError(err) {
						s.logger.WithContext(ctx).WithError(err).WithField("event", raw.Name).Warn("Rejected event record")
						metrics.RecordsRejectedTotal.WithLabelValues(string(models.KindEvent), "invalid").Inc()
						continue
					}
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				results[i] = outcome
			}
		}()
	}

	for i := range extraction.Events {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	outcomes := make([]models.ResolutionOutcome, 0, len(results))
	for _, o := range results {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes, nil
}

// ResolveCompany resolves one raw company and returns its outcome and the
// stored record. Creation is synchronous through the guard because events in
// the same message need the stored id; updates go through the batcher.
func (s *Service) ResolveCompany(ctx context.Context, raw *models.RawCompany) (*models.ResolutionOutcome, *models.Company, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ResolveCompany")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ResolutionDuration.WithLabelValues(string(models.KindCompany)).Observe(time.Since(start).Seconds())
	}()

	if err := s.validate.Struct(raw); err != nil {
		return nil, nil, &models.MalformedInputError{Field: "company", Value: raw.Name, Reason: err.Error()}
	}

	company := normalize.Company(&models.Company{
		Name:          raw.Name,
		Ticker:        raw.Ticker,
		IsPublic:      raw.IsPublic,
		ParentCompany: raw.ParentCompany,
		Description:   strings.TrimSpace(raw.Description),
		Sector:        companySector(raw.Sector),
	})

	embedding, err := s.embedder.Embed(ctx, company.Name+" "+company.Description)
	if err != nil {
		return nil, nil, err
	}
	company.Embedding = embedding

	searchStart := time.Now()
	candidates, err := s.engine.FindCompanyCandidates(ctx, company, s.config.TopK)
	metrics.SearchDuration.WithLabelValues(string(models.KindCompany)).Observe(time.Since(searchStart).Seconds())
	if err != nil {
		return nil, nil, err
	}

	for _, candidate := range candidates {
		eval := s.evaluator.EvaluateCompany(company, candidate)
		if !eval.IsMatch {
			continue
		}
		outcome, err := s.applyCompanyMatch(ctx, company, candidate, eval)
		if err != nil {
			return nil, nil, err
		}
		return outcome, candidate.Company, nil
	}

	stored, created, err := s.companies.CreateOrGet(ctx, company)
	if err != nil {
		return nil, nil, err
	}

	operation := models.OpCreate
	if !created {
		// lost the insert race or the key already existed; either way the
		// stored row wins
		operation = models.OpNoOp
	}

	return &models.ResolutionOutcome{
		Kind:       models.KindCompany,
		Operation:  operation,
		EntityID:   stored.ID,
		ResolvedAt: time.Now().UTC(),
	}, stored, nil
}

func (s *Service) applyCompanyMatch(ctx context.Context, incoming *models.Company, candidate models.MatchCandidate, eval models.Evaluation) (*models.ResolutionOutcome, error) {
	existing := candidate.Company
	patch := s.merger.MergeCompany(existing, incoming, eval.Diffs)
	conflicts := countConflicts(eval.Diffs)
	if conflicts > 0 {
		metrics.ConflictsTotal.WithLabelValues(string(models.KindCompany)).Add(float64(conflicts))
	}

	op := persist.Op{
		Kind:      models.KindCompany,
		EntityID:  existing.ID,
		Conflicts: conflicts,
	}
	operation := models.OpNoOp
	if len(patch) > 0 {
		op.Operation = models.OpUpdate
		op.Patch = patch
		operation = models.OpUpdate
	} else {
		op.Operation = models.OpNoOp
	}

	if err := s.batcher.Submit(ctx, op); err != nil {
		return nil, err
	}

	return &models.ResolutionOutcome{
		Kind:       models.KindCompany,
		Operation:  operation,
		EntityID:   existing.ID,
		MatchScore: candidate.Score,
		Conflicts:  conflicts,
		Diffs:      eval.Diffs,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// ResolveEvent resolves one raw event. When no candidate matches, the create
// is serialized under a per-identity lock and the matcher re-runs inside it,
// shrinking the window in which two workers can create the same event. The
// residual window (rows submitted but not yet flushed are invisible to the
// matcher) is accepted.
func (s *Service) ResolveEvent(ctx context.Context, raw *models.RawEvent, extraction *kafka.ExtractionMessage, companyIDs map[string]string, reference time.Time) (*models.ResolutionOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ResolveEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ResolutionDuration.WithLabelValues(string(models.KindEvent)).Observe(time.Since(start).Seconds())
	}()

	if err := s.validate.Struct(raw); err != nil {
		return nil, &models.MalformedInputError{Field: "event", Value: raw.Name, Reason: err.Error()}
	}

	event, err := normalize.Event(raw, reference)
	if err != nil {
		return nil, err
	}
	if event.Source == "" {
		event.Source = extraction.DocumentID
	}

	for _, name := range raw.Companies {
		if id, ok := companyIDs[strings.ToLower(normalize.CompanyName(name))]; ok {
			event.CompanyIDs = append(event.CompanyIDs, id)
		}
	}
	if len(event.CompanyIDs) == 0 {
		return nil, &models.MalformedInputError{Field: "companies", Value: raw.Name, Reason: "no referenced company could be resolved"}
	}

	embedding, err := s.embedder.Embed(ctx, event.Name+" "+event.Description)
	if err != nil {
		return nil, err
	}
	event.Embedding = embedding

	searchStart := time.Now()
	candidates, err := s.engine.FindEventCandidates(ctx, event, s.config.TopK)
	metrics.SearchDuration.WithLabelValues(string(models.KindEvent)).Observe(time.Since(searchStart).Seconds())
	if err != nil {
		return nil, err
	}

	if outcome := s.tryEventMatch(ctx, event, candidates); outcome != nil {
		return outcome.outcome, outcome.err
	}

	return s.createEventLocked(ctx, event)
}

type matchResult struct {
	outcome *models.ResolutionOutcome
	err     error
}

// tryEventMatch returns nil when no candidate matches.
func (s *Service) tryEventMatch(ctx context.Context, event *models.Event, candidates []models.MatchCandidate) *matchResult {
	for _, candidate := range candidates {
		eval := s.evaluator.EvaluateEvent(event, candidate)
		if !eval.IsMatch {
			continue
		}

		existing := candidate.Event
		patch := s.merger.MergeEvent(existing, event, eval.Diffs)
		conflicts := countConflicts(eval.Diffs)
		if conflicts > 0 {
			metrics.ConflictsTotal.WithLabelValues(string(models.KindEvent)).Add(float64(conflicts))
		}

		op := persist.Op{
			Kind:      models.KindEvent,
			EntityID:  existing.ID,
			Conflicts: conflicts,
		}
		operation := models.OpNoOp
		if len(patch) > 0 {
			op.Operation = models.OpUpdate
			op.Patch = patch
			operation = models.OpUpdate
		} else {
			op.Operation = models.OpNoOp
		}

		if err := s.batcher.Submit(ctx, op); err != nil {
			return &matchResult{err: err}
		}

		return &matchResult{outcome: &models.ResolutionOutcome{
			Kind:       models.KindEvent,
			Operation:  operation,
			EntityID:   existing.ID,
			Source:     event.Source,
			MatchScore: candidate.Score,
			Conflicts:  conflicts,
			Diffs:      eval.Diffs,
			ResolvedAt: time.Now().UTC(),
		}}
	}
	return nil
}

// createEventLocked re-runs the matcher under the identity lock before
// creating. Cancellation before Submit leaves no side effects.
func (s *Service) createEventLocked(ctx context.Context, event *models.Event) (*models.ResolutionOutcome, error) {
	var outcome *models.ResolutionOutcome

	key := fingerprint.Event(event)
	err := s.locker.WithLock(ctx, key, s.config.LockTTL, func() error {
		candidates, err := s.engine.FindEventCandidates(ctx, event, s.config.TopK)
		if err != nil {
			return err
		}
		if result := s.tryEventMatch(ctx, event, candidates); result != nil {
			outcome = result.outcome
			return result.err
		}

		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if err := s.batcher.Submit(ctx, persist.Op{
			Kind:      models.KindEvent,
			Operation: models.OpCreate,
			Event:     event,
			EntityID:  event.ID,
		}); err != nil {
			return err
		}

		outcome = &models.ResolutionOutcome{
			Kind:       models.KindEvent,
			Operation:  models.OpCreate,
			EntityID:   event.ID,
			Source:     event.Source,
			ResolvedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func countConflicts(diffs []models.FieldDiff) int {
	count := 0
	for _, d := range diffs {
		if d.Conflict {
			count++
		}
	}
	return count
}

func companySector(s string) models.CompanySector {
	if s == "" {
		return models.SectorOther
	}
	return models.CompanySector(s)
}

// isDataError separates record-level problems, which are logged and skipped,
// from infrastructure failures, which abort the message for redelivery.
func isDataError(err error) bool {
	var malformed *models.MalformedInputError
	return errors.As(err, &malformed)
}

type passThroughLocker struct{}

func (passThroughLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}
