// Package outcome persists the resolution audit trail: one row per processed
// record, with the field-level diffs stored as jsonb.
package outcome

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const selectColumns = "id, kind, operation, entity_id, source, match_score, conflicts, diffs, resolved_at"

var insertColumns = []string{
	"id", "kind", "operation", "entity_id", "source", "match_score",
	"conflicts", "diffs", "resolved_at",
}

// Repository handles resolution outcome persistence
type Repository struct {
	db     database.DB
	logger logger.Logger
}

// New creates an outcome repository
func New(db database.DB, logger logger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

type outcomeRow struct {
	ID         string                             `db:"id"`
	Kind       models.EntityKind                  `db:"kind"`
	Operation  models.Operation                   `db:"operation"`
	EntityID   string                             `db:"entity_id"`
	Source     string                             `db:"source"`
	MatchScore float64                            `db:"match_score"`
	Conflicts  int                                `db:"conflicts"`
	Diffs      database.JSONB[[]models.FieldDiff] `db:"diffs"`
	ResolvedAt time.Time                          `db:"resolved_at"`
}

func (r outcomeRow) toModel() models.ResolutionOutcome {
	return models.ResolutionOutcome{
		Kind:       r.Kind,
		Operation:  r.Operation,
		EntityID:   r.EntityID,
		Source:     r.Source,
		MatchScore: r.MatchScore,
		Conflicts:  r.Conflicts,
		Diffs:      r.Diffs.GetValue(),
		ResolvedAt: r.ResolvedAt,
	}
}

// PublishOutcomes appends outcomes to the audit trail in one multi-row
// statement. The method satisfies the resolver's outcome sink contract.
func (r *Repository) PublishOutcomes(ctx context.Context, outcomes []models.ResolutionOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.PublishOutcomes")
	defer span.End()

	if len(outcomes) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("resolution_outcomes")
	ib.Cols(insertColumns...)
	for _, o := range outcomes {
		ib.Values(
			uuid.New().String(), o.Kind, o.Operation, o.EntityID, o.Source,
			o.MatchScore, o.Conflicts, database.JSONB[[]models.FieldDiff]{Data: o.Diffs},
			o.ResolvedAt,
		)
	}

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(outcomes)).Error("Failed to record outcomes")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to record outcomes: %v", err)
	}

	return nil
}

// ListByEntity returns the resolution history of one stored entity, newest
// first.
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.ResolutionOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "outcome.Repository.ListByEntity")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns)
	sb.From("resolution_outcomes")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("resolved_at").Desc()

	query, args := sb.Build()
	var rows []outcomeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list outcomes")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list outcomes: %v", err)
	}

	outcomes := make([]models.ResolutionOutcome, 0, len(rows))
	for _, row := range rows {
		outcomes = append(outcomes, row.toModel())
	}
	return outcomes, nil
}
