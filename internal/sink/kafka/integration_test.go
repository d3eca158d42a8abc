//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"flood_etl/internal/domain"
)

const testTopic = "test-features"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("flood-etl-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func TestWriterExportsFeatureRows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	w := NewWriter([]string{broker}, testTopic, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = w.Close() })

	ts := time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)
	value := 1.5
	rows := []domain.FeatureRow{
		{Reading: domain.Reading{ID: "R1", StationID: "S1", Timestamp: &ts, Value: &value, ProcessedAt: ts}},
		{Reading: domain.Reading{ID: "R2", StationID: "S2", ProcessedAt: ts}},
	}
	require.NoError(t, w.LoadBatch(ctx, rows))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MaxWait:   time.Second,
	})
	t.Cleanup(func() { _ = reader.Close() })

	for _, want := range rows {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.ID, string(msg.Key))

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, want.StationID, headers["station_id"])
		assert.Equal(t, "2024-01-01T00:15:00Z", headers["processed_at"])

		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		assert.Equal(t, want.ID, body["reading_id"])
	}
}
