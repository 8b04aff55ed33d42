package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Producer publishes resolution outcomes
type Producer struct {
	writer *kafka.Writer
	logger logger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger logger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishOutcome publishes one resolution outcome, keyed by entity id so all
// outcomes for the same entity land on one partition.
func (p *Producer) PublishOutcome(ctx context.Context, outcome *models.ResolutionOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishOutcome")
	defer span.End()

	if outcome.ResolvedAt.IsZero() {
		outcome.ResolvedAt = time.Now().UTC()
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(outcome.EntityID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(outcome.Kind)},
			{Key: "operation", Value: []byte(outcome.Operation)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("entity_id", outcome.EntityID).Error("Failed to publish outcome")
		return err
	}
	return nil
}

// PublishOutcomes publishes a batch of outcomes in one write.
func (p *Producer) PublishOutcomes(ctx context.Context, outcomes []models.ResolutionOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishOutcomes")
	defer span.End()

	if len(outcomes) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(outcomes))
	for i := range outcomes {
		if outcomes[i].ResolvedAt.IsZero() {
			outcomes[i].ResolvedAt = time.Now().UTC()
		}
		data, err := json.Marshal(outcomes[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: p.topic,
			Key:   []byte(outcomes[i].EntityID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(outcomes[i].Kind)},
				{Key: "operation", Value: []byte(outcomes[i].Operation)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("count", len(msgs)).Error("Failed to publish outcomes")
		return err
	}
	return nil
}
