package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ExtractionMessage is the payload the extraction pipeline publishes for each
// processed document: candidate events and companies awaiting resolution.
type ExtractionMessage struct {
	DocumentID  string              `json:"document_id"`
	Source      string              `json:"source"`
	ExtractedAt time.Time           `json:"extracted_at"`
	Events      []models.RawEvent   `json:"events,omitempty"`
	Companies   []models.RawCompany `json:"companies,omitempty"`
}

// IncomingMessage wraps a raw Kafka message with its parsed payload
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Extraction *ExtractionMessage
}

// ParseExtraction decodes the payload into an ExtractionMessage.
func (m *IncomingMessage) ParseExtraction() error {
	var extraction ExtractionMessage
	if err := json.Unmarshal(m.Value, &extraction); err != nil {
		return fmt.Errorf("parsing extraction message: %w", err)
	}
	if extraction.DocumentID == "" {
		return fmt.Errorf("extraction message missing document_id")
	}
	m.Extraction = &extraction
	return nil
}
