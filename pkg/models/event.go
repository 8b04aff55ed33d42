package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
)

// DatePrecision describes how much of an event date was actually stated in the
// source text. Precision only ever increases on merge.
type DatePrecision string

const (
	PrecisionDateTimeOffset DatePrecision = "datetime_offset"
	PrecisionDateTime       DatePrecision = "datetime"
	PrecisionDate           DatePrecision = "date"
	PrecisionMonthYear      DatePrecision = "month_year"
	PrecisionQuarterYear    DatePrecision = "quarter_year"
	PrecisionYear           DatePrecision = "year"
	PrecisionUnknown        DatePrecision = "unknown"
)

var precisionRanks = map[DatePrecision]int{
	PrecisionDateTimeOffset: 6,
	PrecisionDateTime:       5,
	PrecisionDate:           4,
	PrecisionMonthYear:      3,
	PrecisionQuarterYear:    2,
	PrecisionYear:           1,
	PrecisionUnknown:        0,
}

// Rank orders precisions; a higher rank means the source stated more of the date.
func (p DatePrecision) Rank() int {
	return precisionRanks[p]
}

// EventCategory is the closed set of event types the extractor emits.
type EventCategory string

const (
	CategoryEarningsCall       EventCategory = "earnings_call"
	CategoryInvestorConference EventCategory = "investor_conference"
	CategoryProductLaunch      EventCategory = "product_launch"
	CategoryRegulatoryFiling   EventCategory = "regulatory_filing"
	CategoryMergerAcquisition  EventCategory = "merger_acquisition"
	CategoryDividend           EventCategory = "dividend"
	CategoryGuidanceUpdate     EventCategory = "guidance_update"
	CategoryOther              EventCategory = "other"
)

// IsGeneric reports whether the category is a catch-all that any specific
// category may upgrade during merge.
func (c EventCategory) IsGeneric() bool {
	return c == CategoryOther || c == ""
}

// Event is a resolved corporate event.
// Field order matches schema: id, name, description, event_date, ...
type Event struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	EventDate     *time.Time      `json:"event_date,omitempty" db:"event_date"` // always UTC
	DateText      string          `json:"date_text,omitempty" db:"date_text"`   // original wording from the document
	DatePrecision DatePrecision   `json:"date_precision" db:"date_precision"`
	Location      *string         `json:"location,omitempty" db:"location"`
	Category      EventCategory   `json:"category" db:"category"`
	CompanyIDs    pq.StringArray  `json:"company_ids" db:"company_ids"`
	ChunkIDs      pq.StringArray  `json:"chunk_ids" db:"chunk_ids"`
	Source        string          `json:"source" db:"source"`
	Confirmed     bool            `json:"confirmed" db:"confirmed"`
	Confidence    float64         `json:"confidence" db:"confidence"`
	Embedding     database.Vector `json:"-" db:"embedding"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// RawEvent is an extracted candidate event before normalization and resolution.
type RawEvent struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	DateText    string   `json:"date_text"`
	Location    *string  `json:"location,omitempty"`
	Category    string   `json:"category" validate:"omitempty,oneof=earnings_call investor_conference product_launch regulatory_filing merger_acquisition dividend guidance_update other"`
	Companies   []string `json:"companies" validate:"min=1,dive,required"` // company names as written
	ChunkIDs    []string `json:"chunk_ids"`
	Source      string   `json:"source"` // defaults to the document id when absent
	Confirmed   bool     `json:"confirmed"`
	Confidence  float64  `json:"confidence" validate:"gte=0,lte=1"`
}
