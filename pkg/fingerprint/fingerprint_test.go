package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestEventStableAcrossFieldOrder(t *testing.T) {
	date := time.Date(2025, time.July, 24, 9, 0, 0, 0, time.UTC)

	a := &models.Event{
		Name:       "Q3 Earnings Call",
		Category:   models.CategoryEarningsCall,
		CompanyIDs: []string{"co-1", "co-2"},
		EventDate:  &date,
	}
	b := &models.Event{
		Name:        "  q3 earnings call ",
		Category:    models.CategoryEarningsCall,
		CompanyIDs:  []string{"co-2", "co-1"},
		EventDate:   &date,
		Description: "free-text fields never shift the key",
		Confidence:  0.4,
	}

	assert.Equal(t, Event(a), Event(b))
}

func TestEventMonthGranularity(t *testing.T) {
	early := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, time.July, 30, 23, 0, 0, 0, time.UTC)
	nextMonth := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)

	base := models.Event{
		Name:       "Product Launch",
		Category:   models.CategoryProductLaunch,
		CompanyIDs: []string{"co-1"},
	}

	a, b, c := base, base, base
	a.EventDate = &early
	b.EventDate = &late
	c.EventDate = &nextMonth

	assert.Equal(t, Event(&a), Event(&b))
	assert.NotEqual(t, Event(&a), Event(&c))
}

func TestCompanyCaseInsensitiveName(t *testing.T) {
	a := Company(&models.Company{Name: "Acme Corp", Ticker: "ACME"})
	b := Company(&models.Company{Name: "ACME CORP", Ticker: "ACME"})
	c := Company(&models.Company{Name: "Acme Corp", Ticker: models.TickerPrivate})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
