// Package event persists resolved events and serves their similarity search.
package event

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const selectColumns = "id, name, description, event_date, date_text, date_precision, location, category, company_ids, chunk_ids, source, confirmed, confidence, embedding, created_at, last_updated"

var insertColumns = []string{
	"id", "name", "description", "event_date", "date_text", "date_precision",
	"location", "category", "company_ids", "chunk_ids", "source", "confirmed",
	"confidence", "embedding", "created_at", "last_updated",
}

// Repository handles event persistence
type Repository struct {
	db     database.DB
	logger logger.Logger
}

// New creates an event repository
func New(db database.DB, logger logger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts one event and returns it with its assigned id.
func (r *Repository) Create(ctx context.Context, event *models.Event) (*models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Create")
	defer span.End()

	created, err := r.BulkCreate(ctx, []*models.Event{event})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// BulkCreate inserts events in one multi-row statement. Events have no
// uniqueness key, so there is no conflict clause to hit; the resolver's
// match-before-create pass is what keeps duplicates rare.
func (r *Repository) BulkCreate(ctx context.Context, events []*models.Event) ([]*models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.BulkCreate")
	defer span.End()

	if len(events) == 0 {
		return events, nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("events")
	ib.Cols(insertColumns...)
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
		e.LastUpdated = now
		ib.Values(
			e.ID, e.Name, e.Description, e.EventDate, e.DateText, e.DatePrecision,
			e.Location, e.Category, e.CompanyIDs, e.ChunkIDs, e.Source, e.Confirmed,
			e.Confidence, e.Embedding, e.CreatedAt, e.LastUpdated,
		)
	}

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(events)).Error("Failed to bulk create events")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to create events: %v", err)
	}

	r.logger.WithContext(ctx).WithField("count", len(events)).Debug("Created events")
	return events, nil
}

// GetByID returns one event or a 404 error.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns)
	sb.From("events")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "event %s not found: %v", id, err)
	}
	return &event, nil
}

// SimilarEvents returns the closest stored events by cosine similarity.
// Score is 1 - cosine distance, so higher is closer.
func (r *Repository) SimilarEvents(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.SimilarEvents")
	defer span.End()

	if len(embedding) == 0 {
		return []models.MatchCandidate{}, nil
	}

	query := `
		SELECT ` + selectColumns + `, 1 - (embedding <=> $1) AS score
		FROM events
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	var rows []struct {
		models.Event
		Score float64 `db:"score"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, embedding, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Event similarity search failed")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "event similarity search failed: %v", err)
	}

	candidates := make([]models.MatchCandidate, len(rows))
	for i := range rows {
		event := rows[i].Event
		candidates[i] = models.MatchCandidate{
			Kind:  models.KindEvent,
			Event: &event,
			Score: rows[i].Score,
		}
	}
	return candidates, nil
}

// Patch applies a minimal field patch to one event.
func (r *Repository) Patch(ctx context.Context, id string, patch models.Patch) error {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Patch")
	defer span.End()

	if len(patch) == 0 {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update("events")
	assignments := make([]string, 0, len(patch)+1)
	for field, value := range patch {
		if ss, ok := value.([]string); ok {
			value = pq.Array(ss)
		}
		assignments = append(assignments, ub.Assign(field, value))
	}
	assignments = append(assignments, ub.Assign("last_updated", time.Now().UTC()))
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to patch event")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to patch event %s: %v", id, err)
	}
	return nil
}

// Count returns the number of stored events.
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Count")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to count events: %v", err)
	}
	return count, nil
}
