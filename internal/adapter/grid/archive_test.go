package grid

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
)

const (
	testAsset = "TEST/rain"
	testBand  = "precip"
)

var halfDegree = MetersPerDegree * 0.5

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

// writeDailyLayers writes a 3x3 grid for days 1..10 where pixel i on day d
// holds d + i.
func writeDailyLayers(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for d := 1; d <= 10; d++ {
		values := make([]float64, 9)
		for i := range values {
			values[i] = float64(d + i)
		}
		require.NoError(t, WriteLayer(AssetDir(root, testAsset), Layer{
			Time:      day(d),
			Origin:    orb.Point{0, 3},
			PixelSize: 1,
			Width:     3,
			Height:    3,
			Bands:     map[string][]float64{testBand: values},
		}))
	}
	return root
}

func wholeGrid() orb.Polygon {
	return orb.Polygon{orb.Ring{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}}}
}

func stack(from, to int) domain.StackRef {
	return domain.NewStackRef(testAsset).FilterDate(day(from), day(to)).SelectBand(testBand)
}

func TestArchive_SumComposite(t *testing.T) {
	a := NewArchive(writeDailyLayers(t), discardLogger(), nil)

	got, err := a.ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack:     stack(3, 6),
		Composite: domain.CompositeSum,
		Geometry:  wholeGrid(),
		Reducers:  []domain.Reducer{domain.ReducerMean, domain.ReducerMin, domain.ReducerMax},
		Scale:     halfDegree,
		MaxPixels: domain.DefaultMaxPixels,
	})
	require.NoError(t, err)

	// Pixel-wise sum over days 3..5 is 12 + 3i; its mean over i=0..8 is 24.
	assert.InDelta(t, 24.0, got[domain.ReducerMean], 1e-9)
	assert.InDelta(t, 12.0, got[domain.ReducerMin], 1e-9)
	assert.InDelta(t, 36.0, got[domain.ReducerMax], 1e-9)
}

func TestArchive_StdDevComposite(t *testing.T) {
	a := NewArchive(writeDailyLayers(t), discardLogger(), nil)

	got, err := a.ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack:     stack(3, 6),
		Composite: domain.CompositeStdDev,
		Geometry:  wholeGrid(),
		Reducers:  []domain.Reducer{domain.ReducerMean, domain.ReducerStdDev},
		Scale:     halfDegree,
	})
	require.NoError(t, err)

	// Every pixel sees i+3, i+4, i+5 over the window.
	assert.InDelta(t, math.Sqrt(2.0/3.0), got[domain.ReducerMean], 1e-9)
	assert.InDelta(t, 0, got[domain.ReducerStdDev], 1e-6)
}

func TestArchive_PointGeometry(t *testing.T) {
	a := NewArchive(writeDailyLayers(t), discardLogger(), nil)

	got, err := a.ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack:     stack(4, 5),
		Composite: domain.CompositeFirst,
		Geometry:  orb.Point{2.5, 0.5}, // bottom-right pixel, i = 8
		Reducers:  []domain.Reducer{domain.ReducerMean, domain.ReducerStdDev, domain.ReducerMin, domain.ReducerMax},
		Scale:     1000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 12.0, got[domain.ReducerMean], 1e-9)
	assert.InDelta(t, 0, got[domain.ReducerStdDev], 1e-9)
	assert.InDelta(t, 12.0, got[domain.ReducerMin], 1e-9)
	assert.InDelta(t, 12.0, got[domain.ReducerMax], 1e-9)
}

func TestArchive_SmallPolygonUsesCentroid(t *testing.T) {
	a := NewArchive(writeDailyLayers(t), discardLogger(), nil)
	tiny := orb.Polygon{orb.Ring{{0.4, 2.4}, {0.41, 2.4}, {0.41, 2.41}, {0.4, 2.41}, {0.4, 2.4}}}

	got, err := a.ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack:     stack(4, 5),
		Composite: domain.CompositeFirst,
		Geometry:  tiny,
		Reducers:  []domain.Reducer{domain.ReducerMean},
		Scale:     5000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got[domain.ReducerMean], 1e-9)
}

func TestArchive_Errors(t *testing.T) {
	root := writeDailyLayers(t)
	base := domain.ZonalRequest{
		Stack:     stack(3, 6),
		Composite: domain.CompositeSum,
		Geometry:  wholeGrid(),
		Reducers:  []domain.Reducer{domain.ReducerMean},
		Scale:     halfDegree,
	}

	t.Run("empty window", func(t *testing.T) {
		req := base
		req.Stack = stack(20, 27)
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrNoData)
	})

	t.Run("unknown band", func(t *testing.T) {
		req := base
		req.Stack = req.Stack.SelectBand("other")
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrNoData)
	})

	t.Run("geometry off grid", func(t *testing.T) {
		req := base
		req.Geometry = orb.Point{50, 50}
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrNoData)
	})

	t.Run("too many pixels", func(t *testing.T) {
		req := base
		req.MaxPixels = 10
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrTooManyPixels)
	})

	t.Run("missing asset", func(t *testing.T) {
		req := base
		req.Stack.Asset = "NOPE/none"
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewArchive(root, discardLogger(), nil).ZonalReduce(ctx, base)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestArchive_NoDataSkipped(t *testing.T) {
	root := t.TempDir()
	nodata := -9999.0
	for d, v := range map[int]float64{1: 5, 2: nodata, 3: 7} {
		require.NoError(t, WriteLayer(AssetDir(root, testAsset), Layer{
			Time: day(d), Origin: orb.Point{0, 1}, PixelSize: 1, Width: 1, Height: 1,
			NoData: &nodata,
			Bands:  map[string][]float64{testBand: {v}},
		}))
	}

	got, err := NewArchive(root, discardLogger(), nil).ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack:     stack(1, 4),
		Composite: domain.CompositeSum,
		Geometry:  orb.Point{0.5, 0.5},
		Reducers:  []domain.Reducer{domain.ReducerMean},
	})
	require.NoError(t, err)
	assert.InDelta(t, 12.0, got[domain.ReducerMean], 1e-9)
}

func TestArchive_RecordsMetrics(t *testing.T) {
	m := observability.NewMetricsForTesting()
	a := NewArchive(writeDailyLayers(t), discardLogger(), m)

	_, err := a.ZonalReduce(context.Background(), domain.ZonalRequest{
		Stack: stack(20, 21), Composite: domain.CompositeFirst, Geometry: orb.Point{0.5, 0.5},
		Reducers: []domain.Reducer{domain.ReducerMean},
	})
	require.ErrorIs(t, err, domain.ErrNoData)

	var metric dto.Metric
	require.NoError(t, m.ArchiveRequests.WithLabelValues(backend, "no_data").Write(&metric))
	assert.InDelta(t, 1.0, metric.GetCounter().GetValue(), 0)
}

// A seven-day trailing window through the rainfall stage averages the
// pixel-wise seven-day sum over the polygon.
func TestArchive_WithRainfallStage(t *testing.T) {
	a := NewArchive(writeDailyLayers(t), discardLogger(), nil)
	resolver := domain.NewDateResolver(domain.DefaultDateFields(), domain.DefaultTimezoneOffset, discardLogger())
	stage := domain.NewRainfallStage(a, resolver, 0)

	src := domain.RasterSource{Name: "test", Asset: testAsset, Band: testBand, Quantity: "CumRn", Scale: halfDegree}
	f := domain.Feature{Key: "0", Geometry: wholeGrid(), Properties: map[string]any{
		"formatted_date": "2020-01-10 00:00:00",
	}}

	res, err := stage.Aggregate(context.Background(), f, domain.Trailing(7, src))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultComputed, res.Kind)
	// The window [Jan 3, Jan 10) holds days 3..9: sum_i = 42 + 7i, mean over
	// nine pixels = 70.
	assert.InDelta(t, 70.0, res.Stats["CumRn_7d_mean"], 1e-9)
	assert.InDelta(t, 2.0, res.Stats["CumRn_7d_std"], 1e-9)
}
