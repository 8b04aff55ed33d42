package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// absolute layouts tried in order, most specific first
var dateLayouts = []struct {
	layout    string
	precision models.DatePrecision
}{
	{time.RFC3339, models.PrecisionDateTimeOffset},
	{"2006-01-02T15:04:05Z07:00", models.PrecisionDateTimeOffset},
	{"2006-01-02 15:04:05 -07:00", models.PrecisionDateTimeOffset},
	{"2006-01-02T15:04:05", models.PrecisionDateTime},
	{"2006-01-02 15:04:05", models.PrecisionDateTime},
	{"2006-01-02 15:04", models.PrecisionDateTime},
	{"2006-01-02", models.PrecisionDate},
	{"January 2, 2006", models.PrecisionDate},
	{"Jan 2, 2006", models.PrecisionDate},
	{"January 2 2006", models.PrecisionDate},
	{"2 January 2006", models.PrecisionDate},
	{"1/2/2006", models.PrecisionDate},
	{"01/02/2006", models.PrecisionDate},
	{"January 2006", models.PrecisionMonthYear},
	{"Jan 2006", models.PrecisionMonthYear},
	{"2006-01", models.PrecisionMonthYear},
}

var (
	quarterRe  = regexp.MustCompile(`(?i)^q([1-4])\s*(?:of\s+)?(\d{4})$`)
	fiscalRe   = regexp.MustCompile(`(?i)^fy\s*(\d{2}|\d{4})$`)
	yearRe     = regexp.MustCompile(`^\d{4}$`)
	daysFromRe = regexp.MustCompile(`(?i)^(\d+)\s+days?\s+from\s+(?:now|today)$`)
)

// Date parses event date text into a UTC instant and a precision rank.
// Relative forms are resolved against reference. Empty text is not an error;
// it yields a nil date with unknown precision. Non-empty text that cannot be
// interpreted returns a MalformedInputError so callers report it instead of
// guessing.
func Date(text string, reference time.Time) (*time.Time, models.DatePrecision, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.PrecisionUnknown, nil
	}

	if t, p, ok := parseRelative(text, reference.UTC()); ok {
		return &t, p, nil
	}

	for _, dl := range dateLayouts {
		if t, err := time.Parse(dl.layout, text); err == nil {
			t = t.UTC()
			return &t, dl.precision, nil
		}
	}

	if m := quarterRe.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		t := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return &t, models.PrecisionQuarterYear, nil
	}

	if m := fiscalRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year < 100 {
			year += 2000
		}
		t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t, models.PrecisionYear, nil
	}

	if yearRe.MatchString(text) {
		year, _ := strconv.Atoi(text)
		t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t, models.PrecisionYear, nil
	}

	return nil, models.PrecisionUnknown, &models.MalformedInputError{
		Field:  "date",
		Value:  text,
		Reason: "unrecognized date format",
	}
}

// parseRelative handles forms anchored to the reference instant. All resolve
// to day precision since the source named a day, not a time.
func parseRelative(text string, ref time.Time) (time.Time, models.DatePrecision, bool) {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.ToLower(text) {
	case "today":
		return day, models.PrecisionDate, true
	case "tomorrow":
		return day.AddDate(0, 0, 1), models.PrecisionDate, true
	case "yesterday":
		return day.AddDate(0, 0, -1), models.PrecisionDate, true
	case "next week":
		return day.AddDate(0, 0, 7), models.PrecisionDate, true
	case "next month":
		return day.AddDate(0, 1, 0), models.PrecisionMonthYear, true
	case "next year":
		return day.AddDate(1, 0, 0), models.PrecisionYear, true
	}

	if m := daysFromRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return day.AddDate(0, 0, n), models.PrecisionDate, true
		}
	}

	return time.Time{}, models.PrecisionUnknown, false
}

// Event normalizes an extracted raw event's date and category.
func Event(raw *models.RawEvent, reference time.Time) (*models.Event, error) {
	date, precision, err := Date(raw.DateText, reference)
	if err != nil {
		return nil, fmt.Errorf("normalizing event %q: %w", raw.Name, err)
	}

	category := models.EventCategory(raw.Category)
	if category == "" {
		category = models.CategoryOther
	}

	return &models.Event{
		Name:          strings.TrimSpace(raw.Name),
		Description:   strings.TrimSpace(raw.Description),
		EventDate:     date,
		DateText:      strings.TrimSpace(raw.DateText),
		DatePrecision: precision,
		Location:      raw.Location,
		Category:      category,
		ChunkIDs:      raw.ChunkIDs,
		Source:        raw.Source,
		Confirmed:     raw.Confirmed,
		Confidence:    raw.Confidence,
	}, nil
}
