package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// TickerPrivate is the ticker assigned to companies with no public listing.
// It participates in the uniqueness key like any real ticker.
const TickerPrivate = "PRIVATE"

// CompanySector is the closed set of sectors companies are classified into.
type CompanySector string

const (
	SectorTechnology    CompanySector = "technology"
	SectorHealthcare    CompanySector = "healthcare"
	SectorFinancials    CompanySector = "financials"
	SectorEnergy        CompanySector = "energy"
	SectorConsumer      CompanySector = "consumer"
	SectorIndustrials   CompanySector = "industrials"
	SectorUtilities     CompanySector = "utilities"
	SectorMaterials     CompanySector = "materials"
	SectorRealEstate    CompanySector = "real_estate"
	SectorCommunication CompanySector = "communication"
	SectorOther         CompanySector = "other"
)

// Company is a resolved company record. Uniqueness key: (lower(name), ticker).
// Field order matches schema: id, name, ticker, is_public, ...
type Company struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"` // normalized display form
	Ticker        string          `json:"ticker" db:"ticker"`
	IsPublic      bool            `json:"is_public" db:"is_public"`
	ParentCompany string          `json:"parent_company" db:"parent_company"` // never empty, defaults to Name
	Description   string          `json:"description" db:"description"`
	Sector        CompanySector   `json:"sector" db:"sector"`
	Embedding     database.Vector `json:"-" db:"embedding"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// RawCompany is an extracted candidate company before normalization.
type RawCompany struct {
	Name          string  `json:"name" validate:"required"`
	Ticker        string  `json:"ticker"`
	IsPublic      bool    `json:"is_public"`
	ParentCompany string  `json:"parent_company"`
	Description   string  `json:"description"`
	Sector        string  `json:"sector" validate:"omitempty,oneof=technology healthcare financials energy consumer industrials utilities materials real_estate communication other"`
	Confidence    float64 `json:"confidence" validate:"gte=0,lte=1"`
}
