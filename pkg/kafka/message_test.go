package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		expectError bool
	}{
		{
			name:    "valid message",
			payload: `{"document_id":"doc-1","source":"10-K","events":[{"name":"Q3 Earnings Call","companies":["Acme Corp"],"source":"doc-1","confidence":0.9}]}`,
		},
		{
			name:        "missing document id",
			payload:     `{"source":"10-K"}`,
			expectError: true,
		},
		{
			name:        "malformed json",
			payload:     `{"document_id":`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &IncomingMessage{Value: []byte(tt.payload)}
			err := msg.ParseExtraction()

			if tt.expectError {
				require.Error(t, err)
				assert.Nil(t, msg.Extraction)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, msg.Extraction)
			assert.Equal(t, "doc-1", msg.Extraction.DocumentID)
			require.Len(t, msg.Extraction.Events, 1)
			assert.Equal(t, "Q3 Earnings Call", msg.Extraction.Events[0].Name)
		})
	}
}
