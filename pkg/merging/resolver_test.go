package merging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMergeEvent(t *testing.T) {
	r := NewResolver(logger.NewNop())

	existing := &models.Event{
		ID:            "evt-1",
		Description:   "Quarterly call",
		DatePrecision: models.PrecisionMonthYear,
		CompanyIDs:    []string{"co-1"},
		Confidence:    0.8,
	}

	t.Run("empty diffs yield empty patch", func(t *testing.T) {
		patch := r.MergeEvent(existing, &models.Event{}, nil)
		assert.Empty(t, patch)
	})

	t.Run("date update carries precision and original text", func(t *testing.T) {
		date := time.Date(2025, time.July, 24, 0, 0, 0, 0, time.UTC)
		incoming := &models.Event{
			EventDate:     &date,
			DateText:      "July 24, 2025",
			DatePrecision: models.PrecisionDate,
		}
		diffs := []models.FieldDiff{{Field: "event_date", Incoming: &date}}

		patch := r.MergeEvent(existing, incoming, diffs)

		require.Len(t, patch, 3)
		assert.Equal(t, &date, patch["event_date"])
		assert.Equal(t, models.PrecisionDate, patch["date_precision"])
		assert.Equal(t, "July 24, 2025", patch["date_text"])
	})

	t.Run("patch contains only changed fields", func(t *testing.T) {
		incoming := &models.Event{Confidence: 0.95}
		diffs := []models.FieldDiff{{Field: "confidence", Existing: 0.8, Incoming: 0.95}}

		patch := r.MergeEvent(existing, incoming, diffs)

		require.Len(t, patch, 1)
		assert.Equal(t, 0.95, patch["confidence"])
	})

	t.Run("company ids are unioned not replaced", func(t *testing.T) {
		incoming := &models.Event{CompanyIDs: []string{"co-2", "co-1"}}
		diffs := []models.FieldDiff{{Field: "company_ids"}}

		patch := r.MergeEvent(existing, incoming, diffs)

		assert.Equal(t, []string{"co-1", "co-2"}, patch["company_ids"])
	})

	t.Run("conflict keeps existing value and annotates description", func(t *testing.T) {
		other := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
		incoming := &models.Event{Source: "doc-77"}
		diffs := []models.FieldDiff{{Field: "event_date", Incoming: &other, Conflict: true}}

		patch := r.MergeEvent(existing, incoming, diffs)

		require.Len(t, patch, 1)
		assert.NotContains(t, patch, "event_date")
		assert.Equal(t,
			"Quarterly call [discrepancy: event_date also reported as 2025-08-01 by doc-77]",
			patch["description"])
	})

	t.Run("repeated conflict is not annotated twice", func(t *testing.T) {
		other := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
		incoming := &models.Event{Source: "doc-77"}
		diffs := []models.FieldDiff{{Field: "event_date", Incoming: &other, Conflict: true}}

		annotated := *existing
		annotated.Description = "Quarterly call [discrepancy: event_date also reported as 2025-08-01 by doc-77]"

		patch := r.MergeEvent(&annotated, incoming, diffs)
		assert.Empty(t, patch)
	})

	t.Run("description replacement wins over annotation ordering", func(t *testing.T) {
		incoming := &models.Event{Description: "A much longer and more detailed description of the call"}
		diffs := []models.FieldDiff{{Field: "description", Incoming: incoming.Description}}

		patch := r.MergeEvent(existing, incoming, diffs)
		assert.Equal(t, incoming.Description, patch["description"])
	})
}

func TestMergeCompany(t *testing.T) {
	r := NewResolver(logger.NewNop())

	existing := &models.Company{
		ID:            "co-1",
		Name:          "Acme Corp",
		Ticker:        models.TickerPrivate,
		ParentCompany: "Acme Corp",
		Description:   "Maker of everything",
		Sector:        models.SectorOther,
	}

	t.Run("ticker and visibility upgrade", func(t *testing.T) {
		incoming := &models.Company{Ticker: "ACME", IsPublic: true}
		diffs := []models.FieldDiff{
			{Field: "ticker", Incoming: "ACME"},
			{Field: "is_public", Incoming: true},
		}

		patch := r.MergeCompany(existing, incoming, diffs)

		assert.Equal(t, "ACME", patch["ticker"])
		assert.Equal(t, true, patch["is_public"])
	})

	t.Run("parent conflict annotates description", func(t *testing.T) {
		incoming := &models.Company{ParentCompany: "Globex Holdings"}
		diffs := []models.FieldDiff{{Field: "parent_company", Incoming: "Globex Holdings", Conflict: true}}

		patch := r.MergeCompany(existing, incoming, diffs)

		require.Len(t, patch, 1)
		assert.Equal(t,
			"Maker of everything [discrepancy: parent_company also reported as Globex Holdings]",
			patch["description"])
	})
}
