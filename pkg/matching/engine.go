// Package matching finds stored candidates for incoming records and judges
// whether a candidate is the same real-world entity.
package matching

import (
	"context"
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Searcher is the vector-similarity collaborator, backed by pgvector in
// production and faked in tests.
type Searcher interface {
	SimilarEvents(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error)
	SimilarCompanies(ctx context.Context, embedding database.Vector, limit int) ([]models.MatchCandidate, error)
}

// Engine retrieves and filters match candidates
type Engine struct {
	logger   logger.Logger
	searcher Searcher
	config   EngineConfig
}

// EngineConfig contains configuration for the candidate matcher
type EngineConfig struct {
	SimilarityFloor float64       // Minimum similarity score to keep a candidate (default: 0.75)
	OverfetchFactor int           // Multiplier applied to topK before post-filtering (default: 5)
	DateWindow      time.Duration // Maximum event date distance for a candidate (default: 14 days)
}

// DefaultConfig returns default matcher configuration
func DefaultConfig() EngineConfig {
	return EngineConfig{
		SimilarityFloor: 0.75,
		OverfetchFactor: 5,
		DateWindow:      14 * 24 * time.Hour,
	}
}

// NewEngine creates a new candidate matcher
func NewEngine(logger logger.Logger, searcher Searcher, config EngineConfig) *Engine {
	if config.OverfetchFactor <= 0 {
		config.OverfetchFactor = DefaultConfig().OverfetchFactor
	}
	return &Engine{
		logger:   logger,
		searcher: searcher,
		config:   config,
	}
}

// FindEventCandidates returns stored events plausibly identical to the record,
// sorted by descending score. An empty slice is a valid "no match" outcome.
func (e *Engine) FindEventCandidates(ctx context.Context, record *models.Event, topK int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindEventCandidates")
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("event_name", record.Name)

	raw, err := e.searcher.SimilarEvents(ctx, record.Embedding, topK*e.config.OverfetchFactor)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.MatchCandidate, 0, len(raw))
	for _, c := range raw {
		if c.Score < e.config.SimilarityFloor {
			continue
		}
		// two day-precise events farther apart than the window are
		// different occurrences no matter how similar the text reads
		if c.Event != nil && !e.withinDateWindow(record, c.Event) {
			continue
		}
		candidates = append(candidates, c)
	}

	sortByScore(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	log.WithFields(map[string]any{"fetched": len(raw), "kept": len(candidates)}).Debug("Filtered event candidates")
	return candidates, nil
}

// FindCompanyCandidates returns stored companies plausibly identical to the
// record, sorted by descending score.
func (e *Engine) FindCompanyCandidates(ctx context.Context, record *models.Company, topK int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindCompanyCandidates")
	defer span.End()

	raw, err := e.searcher.SimilarCompanies(ctx, record.Embedding, topK*e.config.OverfetchFactor)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.MatchCandidate, 0, len(raw))
	for _, c := range raw {
		if c.Score < e.config.SimilarityFloor {
			continue
		}
		candidates = append(candidates, c)
	}

	sortByScore(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	return candidates, nil
}

// withinDateWindow is a hard filter: it only applies when both sides carry a
// date pinned to a specific day or better. A missing date never disqualifies
// a candidate, and neither does a coarse one (month, quarter, year), which is
// stored as its period start and can legitimately sit far from the true day.
func (e *Engine) withinDateWindow(record, candidate *models.Event) bool {
	if record.EventDate == nil || candidate.EventDate == nil {
		return true
	}
	if record.DatePrecision.Rank() < models.PrecisionDate.Rank() ||
		candidate.DatePrecision.Rank() < models.PrecisionDate.Rank() {
		return true
	}
	diff := record.EventDate.Sub(*candidate.EventDate)
	if diff < 0 {
		diff = -diff
	}
	return diff <= e.config.DateWindow
}

func sortByScore(candidates []models.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}
