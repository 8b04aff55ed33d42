// Package company persists resolved companies. CreateOrGet is the concurrency
// guard: uniqueness lives in the database, not in application checks.
package company

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const selectColumns = "id, name, ticker, is_public, parent_company, description, sector, embedding, created_at, last_updated"

// Repository handles company persistence
type Repository struct {
	db     database.DB
	logger logger.Logger
}

// New creates a company repository
func New(db database.DB, logger logger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// CreateOrGet atomically inserts the company or returns the stored row that
// owns its (lower(name), ticker) key. Losing an insert race is a successful
// "get existing": callers never see a duplicate-key error. The DO UPDATE is a
// no-op write that lets RETURNING surface the winning row; xmax = 0
// distinguishes a fresh insert from a survived conflict.
func (r *Repository) CreateOrGet(ctx context.Context, company *models.Company) (*models.Company, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "company.Repository.CreateOrGet")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{"name": company.Name, "ticker": company.Ticker})

	id := company.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO companies (
			id, name, ticker, is_public, parent_company, description,
			sector, embedding, created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (lower(name), ticker)
		DO UPDATE SET last_updated = companies.last_updated
		RETURNING ` + selectColumns + `, (xmax = 0) AS inserted
	`

	var result struct {
		models.Company
		Inserted bool `db:"inserted"`
	}

	err := r.db.GetContext(ctx, &result, query,
		id, company.Name, company.Ticker, company.IsPublic, company.ParentCompany,
		company.Description, company.Sector, company.Embedding, now, now,
	)
	if err != nil {
		// a unique violation outside the conflict target (such as a reused
		// id) still means the company exists: return the row that owns the
		// identity key instead of surfacing the duplicate
		if models.IsDuplicateKey(err) {
			existing, getErr := r.getByIdentity(ctx, company.Name, company.Ticker)
			if getErr == nil {
				log.WithField("id", existing.ID).Debug("Company already exists")
				return existing, false, nil
			}
			log.WithError(getErr).Error("Failed to fetch company after duplicate key")
		}
		log.WithError(err).Error("Failed to create or get company")
		return nil, false, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to create or get company: %v", err)
	}

	if result.Inserted {
		log.WithField("id", result.ID).Info("Created company")
	} else {
		log.WithField("id", result.ID).Debug("Company already exists")
	}
	return &result.Company, result.Inserted, nil
}

func (r *Repository) getByIdentity(ctx context.Context, name, ticker string) (*models.Company, error) {
	sb := database.NewSelectBuilder()
	sb.Select(selectColumns)
	sb.From("companies")
	sb.Where(sb.Equal("lower(name)", strings.ToLower(name)), sb.Equal("ticker", ticker))

	query, args := sb.Build()
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, args...); err != nil {
		return nil, err
	}
	return &company, nil
}

// GetByID returns one company or a 404 error.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	ctx, span := tracing.StartSpan(ctx, "company.Repository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(selectColumns)
	sb.From("companies")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "company %s not found: %v", id, err)
	}
	return &company, nil
}

// SimilarCompanies returns the closest stored companies by cosine similarity.
// Score is 1 - cosine distance, so higher is closer.
func (r *Repository) SimilarCompanies(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "company.Repository.SimilarCompanies")
	defer span.End()

	if len(embedding) == 0 {
		return []models.MatchCandidate{}, nil
	}

	query := `
		SELECT ` + selectColumns + `, 1 - (embedding <=> $1) AS score
		FROM companies
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	var rows []struct {
		models.Company
		Score float64 `db:"score"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, embedding, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Company similarity search failed")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "company similarity search failed: %v", err)
	}

	candidates := make([]models.MatchCandidate, len(rows))
	for i := range rows {
		company := rows[i].Company
		candidates[i] = models.MatchCandidate{
			Kind:    models.KindCompany,
			Company: &company,
			Score:   rows[i].Score,
		}
	}
	return candidates, nil
}

// Patch applies a minimal field patch to one company.
func (r *Repository) Patch(ctx context.Context, id string, patch models.Patch) error {
	ctx, span := tracing.StartSpan(ctx, "company.Repository.Patch")
	defer span.End()

	if len(patch) == 0 {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update("companies")
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
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to patch company")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to patch company %s: %v", id, err)
	}
	return nil
}

// Count returns the number of stored companies.
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "company.Repository.Count")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM companies"); err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to count companies: %v", err)
	}
	return count, nil
}
