package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "unique violation code",
			err:      &pq.Error{Code: "23505"},
			expected: true,
		},
		{
			name:     "wrapped unique violation",
			err:      fmt.Errorf("insert company: %w", &pq.Error{Code: "23505"}),
			expected: true,
		},
		{
			name:     "message without a pq error",
			err:      errors.New(`duplicate key value violates unique constraint "companies_pkey"`),
			expected: true,
		},
		{
			name:     "other pq error",
			err:      &pq.Error{Code: "23503"},
			expected: false,
		},
		{
			name:     "unrelated error",
			err:      errors.New("connection refused"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDuplicateKey(tt.err))
		})
	}
}
