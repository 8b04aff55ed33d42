// Package merging turns evaluator diffs into minimal storage patches.
package merging

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Resolver builds patches containing only the fields an incoming record
// improves. Conflicted fields keep the stored value; the disagreement is
// recorded in the description so no information is silently dropped.
type Resolver struct {
	logger logger.Logger
}

// NewResolver creates a merge resolver
func NewResolver(logger logger.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// MergeEvent produces the patch for one matched event. An empty patch means
// the stored record already carries everything the incoming one knows.
func (r *Resolver) MergeEvent(existing, incoming *models.Event, diffs []models.FieldDiff) models.Patch {
	patch := models.Patch{}
	description := existing.Description

	for _, diff := range diffs {
		if diff.Conflict {
			description = appendDiscrepancy(description, diff, incoming.Source)
			continue
		}

		switch diff.Field {
		case "event_date":
			patch["event_date"] = incoming.EventDate
			patch["date_precision"] = incoming.DatePrecision
			if incoming.DateText != "" {
				patch["date_text"] = incoming.DateText
			}
		case "description":
			description = incoming.Description
		case "company_ids":
			patch["company_ids"] = unionStrings(existing.CompanyIDs, incoming.CompanyIDs)
		case "chunk_ids":
			patch["chunk_ids"] = unionStrings(existing.ChunkIDs, incoming.ChunkIDs)
		case "location":
			patch["location"] = incoming.Location
		case "confirmed":
			patch["confirmed"] = incoming.Confirmed
		case "confidence":
			patch["confidence"] = incoming.Confidence
		case "category":
			patch["category"] = incoming.Category
		default:
			r.logger.WithField("field", diff.Field).Warn("Unhandled event diff field")
		}
	}

	if description != existing.Description {
		patch["description"] = description
	}

	return patch
}

// MergeCompany produces the patch for one matched company.
func (r *Resolver) MergeCompany(existing, incoming *models.Company, diffs []models.FieldDiff) models.Patch {
	patch := models.Patch{}
	description := existing.Description

	for _, diff := range diffs {
		if diff.Conflict {
			description = appendDiscrepancy(description, diff, "")
			continue
		}

		switch diff.Field {
		case "description":
			description = incoming.Description
		case "ticker":
			patch["ticker"] = incoming.Ticker
		case "is_public":
			patch["is_public"] = incoming.IsPublic
		case "sector":
			patch["sector"] = incoming.Sector
		case "parent_company":
			patch["parent_company"] = incoming.ParentCompany
		default:
			r.logger.WithField("field", diff.Field).Warn("Unhandled company diff field")
		}
	}

	if description != existing.Description {
		patch["description"] = description
	}

	return patch
}

// appendDiscrepancy records a conflicting report inline. Identical notes are
// not repeated when the same disagreement arrives again.
func appendDiscrepancy(description string, diff models.FieldDiff, source string) string {
	note := fmt.Sprintf("[discrepancy: %s also reported as %s", diff.Field, formatValue(diff.Incoming))
	if source != "" {
		note += fmt.Sprintf(" by %s", source)
	}
	note += "]"

	if strings.Contains(description, note) {
		return description
	}
	if description == "" {
		return note
	}
	return description + " " + note
}

func formatValue(v any) string {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return "unknown"
		}
		return t.Format("2006-01-02")
	case time.Time:
		return t.Format("2006-01-02")
	case nil:
		return "unknown"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// unionStrings keeps existing order and appends unseen incoming values.
func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return merged
}
