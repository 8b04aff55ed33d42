package resolver

import (
	"context"

	"github.com/Ramsey-B/fern/internal/repositories/company"
	"github.com/Ramsey-B/fern/internal/repositories/event"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/persist"
)

// RepositoryStore adapts the Postgres repositories to the batcher's Store
// contract and the matcher's Searcher contract.
type RepositoryStore struct {
	events    *event.Repository
	companies *company.Repository
}

// NewRepositoryStore creates the store backing the batch persister.
func NewRepositoryStore(events *event.Repository, companies *company.Repository) *RepositoryStore {
	return &RepositoryStore{events: events, companies: companies}
}

// SimilarEvents serves the matcher's candidate lookup.
func (s *RepositoryStore) SimilarEvents(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error) {
	return s.events.SimilarEvents(ctx, embedding, limit)
}

// SimilarCompanies serves the matcher's candidate lookup.
func (s *RepositoryStore) SimilarCompanies(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error) {
	return s.companies.SimilarCompanies(ctx, embedding, limit)
}

// CreateEvents inserts events in one multi-row statement. A failure here is
// wholesale: the batcher retries the whole group.
func (s *RepositoryStore) CreateEvents(ctx context.Context, events []*models.Event) ([]error, error) {
	if _, err := s.events.BulkCreate(ctx, events); err != nil {
		return nil, err
	}
	return make([]error, len(events)), nil
}

// PatchEvents applies patches one statement per item so a single bad patch
// does not poison the rest of the batch.
func (s *RepositoryStore) PatchEvents(ctx context.Context, patches []persist.EntityPatch) ([]error, error) {
	errs := make([]error, len(patches))
	for i, p := range patches {
		errs[i] = s.events.Patch(ctx, p.EntityID, p.Patch)
	}
	return errs, nil
}

// CreateCompanies funnels creates through the concurrency guard so batch
// callers get the same race conversion as the synchronous path.
func (s *RepositoryStore) CreateCompanies(ctx context.Context, companies []*models.Company) ([]error, error) {
	errs := make([]error, len(companies))
	for i, c := range companies {
		stored, _, err := s.companies.CreateOrGet(ctx, c)
		if err != nil {
			errs[i] = err
			continue
		}
		*c = *stored
	}
	return errs, nil
}

// PatchCompanies applies patches one statement per item.
func (s *RepositoryStore) PatchCompanies(ctx context.Context, patches []persist.EntityPatch) ([]error, error) {
	errs := make([]error, len(patches))
	for i, p := range patches {
		errs[i] = s.companies.Patch(ctx, p.EntityID, p.Patch)
	}
	return errs, nil
}
