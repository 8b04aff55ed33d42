package matching

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// descriptionGrowth is the minimum token growth before a longer description
// replaces an existing one.
const descriptionGrowth = 1.2

// placeholderMarkers flag descriptions that carry no real content and lose to
// any concrete text.
var placeholderMarkers = []string{"TBD", "TO BE DETERMINED", "TO BE ANNOUNCED"}

// Evaluator decides whether a candidate is the same entity as an incoming
// record and which fields the incoming record improves.
type Evaluator struct {
	similarityFloor float64
}

// NewEvaluator creates a precision evaluator
func NewEvaluator(similarityFloor float64) *Evaluator {
	return &Evaluator{similarityFloor: similarityFloor}
}

// EvaluateEvent judges an incoming event against one stored candidate.
func (ev *Evaluator) EvaluateEvent(incoming *models.Event, candidate models.MatchCandidate) models.Evaluation {
	existing := candidate.Event
	if existing == nil {
		return models.Evaluation{}
	}

	if candidate.Score < ev.similarityFloor ||
		!categoriesCompatible(incoming.Category, existing.Category) ||
		!shareCompany(incoming.CompanyIDs, existing.CompanyIDs) {
		return models.Evaluation{}
	}

	var diffs []models.FieldDiff

	diffs = append(diffs, ev.dateDiffs(incoming, existing)...)

	if shouldReplaceDescription(existing.Description, incoming.Description) {
		diffs = append(diffs, models.FieldDiff{
			Field:    "description",
			Existing: existing.Description,
			Incoming: incoming.Description,
		})
	}

	if d := locationDiff(existing.Location, incoming.Location); d != nil {
		diffs = append(diffs, *d)
	}

	if incoming.Confirmed && !existing.Confirmed {
		diffs = append(diffs, models.FieldDiff{Field: "confirmed", Existing: false, Incoming: true})
	}

	if incoming.Confidence > existing.Confidence {
		diffs = append(diffs, models.FieldDiff{Field: "confidence", Existing: existing.Confidence, Incoming: incoming.Confidence})
	}

	if existing.Category.IsGeneric() && !incoming.Category.IsGeneric() {
		diffs = append(diffs, models.FieldDiff{Field: "category", Existing: existing.Category, Incoming: incoming.Category})
	}

	if added := missingStrings(existing.CompanyIDs, incoming.CompanyIDs); len(added) > 0 {
		diffs = append(diffs, models.FieldDiff{Field: "company_ids", Existing: existing.CompanyIDs, Incoming: incoming.CompanyIDs})
	}
	if added := missingStrings(existing.ChunkIDs, incoming.ChunkIDs); len(added) > 0 {
		diffs = append(diffs, models.FieldDiff{Field: "chunk_ids", Existing: existing.ChunkIDs, Incoming: incoming.ChunkIDs})
	}

	return models.Evaluation{
		IsMatch:     true,
		NeedsUpdate: hasNonConflict(diffs),
		Diffs:       diffs,
	}
}

// EvaluateCompany judges an incoming company against one stored candidate.
// Name similarity alone is not enough: the names must be equal after
// normalization, or one must be a strict substring or acronym of the other.
func (ev *Evaluator) EvaluateCompany(incoming *models.Company, candidate models.MatchCandidate) models.Evaluation {
	existing := candidate.Company
	if existing == nil {
		return models.Evaluation{}
	}

	if candidate.Score < ev.similarityFloor || !companyNamesMatch(incoming, existing) {
		return models.Evaluation{}
	}

	var diffs []models.FieldDiff

	if shouldReplaceDescription(existing.Description, incoming.Description) {
		diffs = append(diffs, models.FieldDiff{
			Field:    "description",
			Existing: existing.Description,
			Incoming: incoming.Description,
		})
	}

	// a real ticker supersedes the private placeholder
	if existing.Ticker == models.TickerPrivate && incoming.Ticker != models.TickerPrivate {
		diffs = append(diffs, models.FieldDiff{Field: "ticker", Existing: existing.Ticker, Incoming: incoming.Ticker})
		if incoming.IsPublic && !existing.IsPublic {
			diffs = append(diffs, models.FieldDiff{Field: "is_public", Existing: false, Incoming: true})
		}
	}

	if existing.Sector == models.SectorOther && incoming.Sector != models.SectorOther && incoming.Sector != "" {
		diffs = append(diffs, models.FieldDiff{Field: "sector", Existing: existing.Sector, Incoming: incoming.Sector})
	}

	switch {
	case existing.ParentCompany == existing.Name && incoming.ParentCompany != incoming.Name && incoming.ParentCompany != "":
		// defaulted parent loses to an explicit one
		diffs = append(diffs, models.FieldDiff{Field: "parent_company", Existing: existing.ParentCompany, Incoming: incoming.ParentCompany})
	case existing.ParentCompany != existing.Name && incoming.ParentCompany != incoming.Name &&
		incoming.ParentCompany != "" && !strings.EqualFold(existing.ParentCompany, incoming.ParentCompany):
		diffs = append(diffs, models.FieldDiff{
			Field:    "parent_company",
			Existing: existing.ParentCompany,
			Incoming: incoming.ParentCompany,
			Conflict: true,
		})
	}

	return models.Evaluation{
		IsMatch:     true,
		NeedsUpdate: hasNonConflict(diffs),
		Diffs:       diffs,
	}
}

// dateDiffs applies the precision ladder: a more precise date wins outright,
// an equally precise disagreeing date is a conflict, a less precise one is
// ignored.
func (ev *Evaluator) dateDiffs(incoming, existing *models.Event) []models.FieldDiff {
	if incoming.EventDate == nil {
		return nil
	}

	newRank := incoming.DatePrecision.Rank()
	oldRank := existing.DatePrecision.Rank()

	if existing.EventDate == nil || newRank > oldRank {
		return []models.FieldDiff{{
			Field:    "event_date",
			Existing: existing.EventDate,
			Incoming: incoming.EventDate,
		}}
	}

	if newRank == oldRank && !incoming.EventDate.Equal(*existing.EventDate) {
		return []models.FieldDiff{{
			Field:    "event_date",
			Existing: existing.EventDate,
			Incoming: incoming.EventDate,
			Conflict: true,
		}}
	}

	return nil
}

// categoriesCompatible allows a generic category on either side; two
// different specific categories are different events.
func categoriesCompatible(a, b models.EventCategory) bool {
	return a == b || a.IsGeneric() || b.IsGeneric()
}

// hasNonConflict reports whether any diff is actionable; conflicts alone do
// not make a record need updating.
func hasNonConflict(diffs []models.FieldDiff) bool {
	for _, d := range diffs {
		if !d.Conflict {
			return true
		}
	}
	return false
}

func shareCompany(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func companyNamesMatch(incoming, existing *models.Company) bool {
	newName := strings.ToLower(incoming.Name)
	oldName := strings.ToLower(existing.Name)

	if newName == oldName && incoming.Ticker == existing.Ticker {
		return true
	}
	if newName == "" || oldName == "" {
		return false
	}
	if strings.Contains(oldName, newName) || strings.Contains(newName, oldName) {
		return true
	}
	return isAcronymOf(incoming.Name, existing.Name) || isAcronymOf(existing.Name, incoming.Name)
}

// isAcronymOf reports whether short is the initialism of long, e.g.
// "IBM" for "International Business Machines".
func isAcronymOf(short, long string) bool {
	words := strings.Fields(long)
	if len(words) < 2 || len(short) != len(words) {
		return false
	}
	for i, w := range words {
		if !strings.EqualFold(short[i:i+1], w[:1]) {
			return false
		}
	}
	return true
}

func shouldReplaceDescription(existing, incoming string) bool {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return false
	}

	existing = strings.TrimSpace(existing)
	if existing == "" || isPlaceholder(existing) {
		return true
	}

	newTokens := len(strings.Fields(incoming))
	oldTokens := len(strings.Fields(existing))

	if float64(newTokens) <= float64(oldTokens)*descriptionGrowth {
		return false
	}
	// an existing text that merely got trimmed should not bounce back
	return !strings.HasPrefix(existing, incoming)
}

func isPlaceholder(s string) bool {
	upper := strings.ToUpper(s)
	for _, marker := range placeholderMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func locationDiff(existing, incoming *string) *models.FieldDiff {
	if incoming == nil || strings.TrimSpace(*incoming) == "" {
		return nil
	}
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &models.FieldDiff{Field: "location", Existing: nil, Incoming: *incoming}
	}
	if !strings.EqualFold(strings.TrimSpace(*existing), strings.TrimSpace(*incoming)) {
		return &models.FieldDiff{Field: "location", Existing: *existing, Incoming: *incoming, Conflict: true}
	}
	return nil
}

func missingStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	var missing []string
	for _, s := range incoming {
		if _, ok := seen[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
