package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestCompanyName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase name is title-cased",
			input:    "acme corporation",
			expected: "Acme Corporation",
		},
		{
			name:     "short all-caps word survives title-casing",
			input:    "ACME CORPORATION",
			expected: "ACME Corporation",
		},
		{
			name:     "short acronym is preserved",
			input:    "IBM corporation",
			expected: "IBM Corporation",
		},
		{
			name:     "acronym with trailing punctuation",
			input:    "advanced micro devices AMD,",
			expected: "Advanced Micro Devices AMD,",
		},
		{
			name:     "five letter all-caps word is not an acronym",
			input:    "TESLA motors",
			expected: "Tesla Motors",
		},
		{
			name:     "extra whitespace is collapsed",
			input:    "  acme   corp  ",
			expected: "Acme Corp",
		},
		{
			name:     "already normalized",
			input:    "Acme Corp",
			expected: "Acme Corp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompanyName(tt.input))
		})
	}
}

func TestTicker(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase ticker", input: "aapl", expected: "AAPL"},
		{name: "padded ticker", input: "  msft ", expected: "MSFT"},
		{name: "empty ticker gets private placeholder", input: "", expected: "PRIVATE"},
		{name: "whitespace only", input: "   ", expected: "PRIVATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Ticker(tt.input))
		})
	}
}

func TestCompany(t *testing.T) {
	t.Run("parent company defaults to own name", func(t *testing.T) {
		c := Company(&models.Company{Name: "acme corp", Ticker: "acme"})

		assert.Equal(t, "Acme Corp", c.Name)
		assert.Equal(t, "ACME", c.Ticker)
		assert.Equal(t, "Acme Corp", c.ParentCompany)
	})

	t.Run("existing parent company is normalized", func(t *testing.T) {
		c := Company(&models.Company{Name: "youtube", Ticker: "", ParentCompany: "alphabet inc"})

		assert.Equal(t, "Alphabet Inc", c.ParentCompany)
		assert.Equal(t, models.TickerPrivate, c.Ticker)
	})

	t.Run("idempotent", func(t *testing.T) {
		first := Company(&models.Company{Name: "ACME holdings LLC", Ticker: "acm"})
		copy := *first
		second := Company(&copy)

		assert.Equal(t, first.Name, second.Name)
		assert.Equal(t, first.Ticker, second.Ticker)
		assert.Equal(t, first.ParentCompany, second.ParentCompany)
	})
}
