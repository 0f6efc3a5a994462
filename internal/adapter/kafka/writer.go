package kafka

import (
	"context"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hazard-sync/internal/config"
	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// Writer produces map events to the events topic.
// It implements engine.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured events topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes events in a single WriteMessages call. Events sharing a key
// land on the same partition, so per-source snapshots stay ordered.
func (w *Writer) Publish(ctx context.Context, events []domain.OutboundEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msgs[i] = toMessage(events[i])
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		w.logger.Error("publish events failed", "error", err, "count", len(msgs))
		return err
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toMessage wraps an event with event_type and published_at headers.
func toMessage(e domain.OutboundEvent) kafkago.Message {
	return kafkago.Message{
		Key:   e.Key,
		Value: e.Value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "published_at", Value: []byte(e.PublishedAt.UTC().Format(time.RFC3339))},
		},
	}
}
