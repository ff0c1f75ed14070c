//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/grid"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/kafka"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/config"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/pipeline"
)

const testSinkTopic = "test-landslide-rainfall"

// publishedFeature holds a deserialized message read from the sink topic.
type publishedFeature struct {
	Feature *orbjson.Feature
	Key     string
	Headers map[string]string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("landslide-test"))
	require.NoError(t, err, "start kafka container")
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

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

// readPublished reads a single message from the sink consumer and deserializes it.
func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedFeature {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	f, err := orbjson.UnmarshalFeature(msg.Value)
	require.NoError(t, err, "unmarshal sink message")

	return publishedFeature{Feature: f, Key: string(msg.Key), Headers: headers}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaWriter verifies that every enriched feature is published as one
// GeoJSON message with the export metadata in its headers.
func TestKafkaWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	spec := domain.Trailing(7, domain.SourceGSMaP)
	e := domain.EnrichedCollection{
		Name: domain.ExportName(spec),
		Spec: spec,
		Collection: domain.FeatureCollection{Features: []domain.Feature{
			{Key: "0", Geometry: orb.Point{10, 46}, Properties: map[string]any{"CumRn_7d_mean": 41.5, "rain_status": "computed"}},
			{Key: "1", Geometry: orb.Point{11, 47}, Properties: map[string]any{"CumRn_7d_mean": nil, "rain_status": "unavailable"}},
		}},
		RunID:       "run-integration",
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, writer.Export(ctx, e))

	consumer := newConsumer(t, broker)
	byKey := map[string]publishedFeature{}
	for len(byKey) < 2 {
		pf := readPublished(ctx, t, consumer)
		byKey[pf.Key] = pf
	}

	first := byKey["Filtered_7d_Rainfall/0"]
	require.NotNil(t, first.Feature)
	assert.Equal(t, "computed", first.Headers["rain_status"])
	assert.Equal(t, "run-integration", first.Headers["run_id"])
	assert.Equal(t, "7d", first.Headers["window"])
	_, err := time.Parse(time.RFC3339, first.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")
	assert.InDelta(t, 41.5, first.Feature.Properties["CumRn_7d_mean"], 0)

	second := byKey["Filtered_7d_Rainfall/1"]
	require.NotNil(t, second.Feature)
	assert.Equal(t, "unavailable", second.Headers["rain_status"])
	assert.Nil(t, second.Feature.Properties["CumRn_7d_mean"])
}

// TestPipelineToKafka runs the full driver over on-disk assets with the Kafka
// exporter and checks that one message per unit and window arrives.
func TestPipelineToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	root := t.TempDir()
	featureDir := filepath.Join(root, "features")
	rasterDir := filepath.Join(root, "rasters")
	logger := discardLogger()

	store := geojson.NewStore(featureDir, logger)
	units := domain.FeatureCollection{}
	for i := 0; i < 4; i++ {
		x := 10 + float64(i)*0.5
		units.Features = append(units.Features, domain.Feature{
			Key:        strconv.Itoa(i),
			Geometry:   orb.Polygon{orb.Ring{{x, 46}, {x + 0.5, 46}, {x + 0.5, 46.5}, {x, 46.5}, {x, 46}}},
			Properties: map[string]any{"su_id": fmt.Sprintf("SU%d", i)},
		})
	}
	points := domain.FeatureCollection{Features: []domain.Feature{
		{Key: "0", Geometry: orb.Point{10.25, 46.25}, Properties: map[string]any{"id": "ev-1", "utc_date": "2020-01-20T06:00:00Z"}},
		{Key: "1", Geometry: orb.Point{11.25, 46.25}, Properties: map[string]any{"id": "ev-2", "utc_date": "2020-01-25T18:15:00Z"}},
	}}
	require.NoError(t, store.Save("units", units))
	require.NoError(t, store.Save("events", points))

	dir := grid.AssetDir(rasterDir, domain.SourceGSMaP.Asset)
	for day := 1; day <= 31; day++ {
		values := make([]float64, 20*10)
		for i := range values {
			values[i] = float64(day % 3)
		}
		require.NoError(t, grid.WriteLayer(dir, grid.Layer{
			Time:      time.Date(2020, time.January, day, 0, 0, 0, 0, time.UTC),
			Origin:    orb.Point{10, 47},
			PixelSize: 0.1,
			Width:     20,
			Height:    10,
			Bands:     map[string][]float64{domain.SourceGSMaP.Band: values},
		}))
	}

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	resolver := domain.NewDateResolver(domain.DefaultDateFields(), domain.DefaultTimezoneOffset, logger)
	stage := domain.NewRainfallStage(grid.NewArchive(rasterDir, logger, metrics), resolver, 0)
	d := pipeline.New(store, stage, resolver, []pipeline.Sink{{Format: config.FormatKafka, Exporter: writer}}, pipeline.Options{
		Concurrency:    2,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     1,
		Join:           domain.DefaultJoinOptions(),
	}, logger, metrics)

	specs := []domain.WindowSpec{domain.Trailing(7, domain.SourceGSMaP), domain.Trailing(14, domain.SourceGSMaP)}
	require.NoError(t, d.Execute(ctx, "units", "events", specs))

	consumer := newConsumer(t, broker)
	want := units.Len() * len(specs)
	received := make(map[string]publishedFeature, want)
	for len(received) < want {
		pf := readPublished(ctx, t, consumer)
		received[pf.Key] = pf
	}

	statuses := map[string]int{}
	for _, pf := range received {
		statuses[pf.Headers["rain_status"]]++
		assert.NotEmpty(t, pf.Headers["run_id"])
	}
	assert.Equal(t, map[string]int{"computed": 4, "fallback": 4}, statuses)

	hit := received["Filtered_14d_Rainfall/0"]
	require.NotNil(t, hit.Feature)
	assert.InDelta(t, 1.0, hit.Feature.Properties["presence_flag"], 0)
	assert.Equal(t, "ev-1", hit.Feature.Properties["event_id"])
	assert.Contains(t, hit.Feature.Properties, "CumRn_14d_std")
}
