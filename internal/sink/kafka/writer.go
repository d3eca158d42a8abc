package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"flood_etl/internal/domain"
)

// Writer exports feature rows to a Kafka topic.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger.With("component", "kafka_sink", "topic", topic)}
}

// LoadBatch publishes all rows in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, rows []domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write feature rows: %w", err)
	}
	w.logger.Debug("exported feature rows", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(row domain.FeatureRow) (kafkago.Message, error) {
	data, err := json.Marshal(row.Record())
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature row %s: %w", row.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(row.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station_id", Value: []byte(row.StationID)},
			{Key: "processed_at", Value: []byte(row.ProcessedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
