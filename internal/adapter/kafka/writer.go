package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/config"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// messageWriter is the subset of kafkago.Writer the exporter needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes enriched features to a Kafka topic, one message per
// feature. It implements domain.Exporter.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Export serializes every feature of e and publishes them in a single
// WriteMessages call.
func (w *Writer) Export(ctx context.Context, e domain.EnrichedCollection) error {
	if e.Collection.Empty() {
		return nil
	}
	msgs := make([]kafkago.Message, len(e.Collection.Features))
	for i := range e.Collection.Features {
		msg, err := serializeToMessage(e, e.Collection.Features[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s: %w", e.Name, err)
	}
	w.logger.Info("kafka export published", "name", e.Name, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one enriched feature as a GeoJSON Feature. The
// key groups a unit's messages across runs onto one partition.
func serializeToMessage(e domain.EnrichedCollection, f domain.Feature) (kafkago.Message, error) {
	gf := geojson.ToGeoJSON(domain.FeatureCollection{Features: []domain.Feature{f}}).Features[0]
	data, err := gf.MarshalJSON()
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature %s: %w", f.Key, err)
	}
	return kafkago.Message{
		Key:   []byte(e.Name + "/" + f.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "export_name", Value: []byte(e.Name)},
			{Key: "window", Value: []byte(e.Spec.Label())},
			{Key: "run_id", Value: []byte(e.RunID)},
			{Key: "rain_status", Value: []byte(f.String(domain.StatusField))},
			{Key: "processed_at", Value: []byte(e.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
