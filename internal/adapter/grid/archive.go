// Package grid implements domain.RasterArchive over gridded layers stored as
// JSON files, one directory per asset.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
)

const backend = "grid"

// Archive answers zonal reductions from layers under a root directory.
// Layers are read once per asset and kept in memory.
type Archive struct {
	root    string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	assets map[string][]Layer
}

// NewArchive creates an archive rooted at dir. metrics may be nil.
func NewArchive(dir string, logger *slog.Logger, metrics *observability.Metrics) *Archive {
	return &Archive{
		root:    dir,
		logger:  logger,
		metrics: metrics,
		assets:  make(map[string][]Layer),
	}
}

// ZonalReduce composites the layers selected by req.Stack and reduces the
// result over req.Geometry.
func (a *Archive) ZonalReduce(ctx context.Context, req domain.ZonalRequest) (map[domain.Reducer]float64, error) {
	start := time.Now()
	out, err := a.zonalReduce(ctx, req)
	a.observe(start, err)
	return out, err
}

func (a *Archive) zonalReduce(ctx context.Context, req domain.ZonalRequest) (map[domain.Reducer]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Geometry == nil {
		return nil, errors.New("zonal reduce: nil geometry")
	}

	layers, err := a.load(req.Stack.Asset)
	if err != nil {
		return nil, err
	}
	selected := selectLayers(layers, req.Stack)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%s %s [%s, %s): %w", req.Stack.Asset, req.Stack.Band,
			req.Stack.Start.Format(time.RFC3339), req.Stack.End.Format(time.RFC3339), domain.ErrNoData)
	}

	img, err := composite(selected, req.Stack.Band, req.Composite)
	if err != nil {
		return nil, err
	}

	samples, err := sample(img, req.Geometry, req.Scale, req.MaxPixels)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("geometry covers no valid pixels: %w", domain.ErrNoData)
	}
	return reduce(samples, req.Reducers)
}

func (a *Archive) load(asset string) ([]Layer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if layers, ok := a.assets[asset]; ok {
		return layers, nil
	}
	layers, err := LoadLayers(AssetDir(a.root, asset))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", asset, err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("%s: %w", asset, domain.ErrAssetNotFound)
	}
	a.logger.Debug("raster asset loaded", "asset", asset, "layers", len(layers))
	a.assets[asset] = layers
	return layers, nil
}

func (a *Archive) observe(start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, domain.ErrNoData):
		outcome = "no_data"
	case err != nil:
		outcome = "error"
	}
	a.metrics.ArchiveRequests.WithLabelValues(backend, outcome).Inc()
	a.metrics.ArchiveDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func selectLayers(layers []Layer, stack domain.StackRef) []Layer {
	var out []Layer
	for _, l := range layers {
		if !stack.Contains(l.Time) {
			continue
		}
		if _, ok := l.Bands[stack.Band]; !ok {
			continue
		}
		out = append(out, l)
	}
	return out
}

// image is a single composited band on the grid of its source layers. NaN
// marks pixels with no valid input.
type image struct {
	grid   Layer
	values []float64
}

func composite(layers []Layer, band string, c domain.Composite) (image, error) {
	ref := layers[0]
	for _, l := range layers[1:] {
		if !l.sameGrid(ref) {
			return image{}, fmt.Errorf("layers at %s and %s use different grids", ref.Time, l.Time)
		}
	}

	n := ref.Width * ref.Height
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		var (
			count      int
			sum, sumSq float64
			first      = math.NaN()
		)
		for _, l := range layers {
			v := l.Bands[band][i]
			if !l.valid(v) {
				continue
			}
			if count == 0 {
				first = v
			}
			count++
			sum += v
			sumSq += v * v
		}

		switch {
		case count == 0:
			values[i] = math.NaN()
		case c == domain.CompositeFirst:
			values[i] = first
		case c == domain.CompositeSum:
			values[i] = sum
		case c == domain.CompositeStdDev:
			values[i] = populationStdDev(count, sum, sumSq)
		default:
			return image{}, fmt.Errorf("unsupported composite %q", c)
		}
	}
	return image{grid: ref, values: values}, nil
}

// sample collects composited values at grid points spaced scale meters apart
// inside g. Geometries smaller than one step fall back to their centroid.
func sample(img image, g orb.Geometry, scale float64, maxPixels int64) ([]float64, error) {
	if pts, ok := pointSamples(g); ok {
		return img.lookup(pts), nil
	}

	step := img.grid.PixelSize
	if scale > 0 {
		step = scale / MetersPerDegree
	}
	b := g.Bound()
	nx := int64(math.Ceil((b.Max[0] - b.Min[0]) / step))
	ny := int64(math.Ceil((b.Max[1] - b.Min[1]) / step))
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	if maxPixels > 0 && nx*ny > maxPixels {
		return nil, fmt.Errorf("%d samples > %d: %w", nx*ny, maxPixels, domain.ErrTooManyPixels)
	}

	var inside []orb.Point
	for iy := int64(0); iy < ny; iy++ {
		y := b.Min[1] + (float64(iy)+0.5)*step
		for ix := int64(0); ix < nx; ix++ {
			p := orb.Point{b.Min[0] + (float64(ix)+0.5)*step, y}
			if contains(g, p) {
				inside = append(inside, p)
			}
		}
	}
	if len(inside) == 0 {
		c, _ := planar.CentroidArea(g)
		inside = append(inside, c)
	}
	return img.lookup(inside), nil
}

func (img image) lookup(pts []orb.Point) []float64 {
	out := make([]float64, 0, len(pts))
	for _, p := range pts {
		i := img.grid.index(p)
		if i < 0 || math.IsNaN(img.values[i]) {
			continue
		}
		out = append(out, img.values[i])
	}
	return out
}

func pointSamples(g orb.Geometry) ([]orb.Point, bool) {
	switch t := g.(type) {
	case orb.Point:
		return []orb.Point{t}, true
	case orb.MultiPoint:
		return []orb.Point(t), true
	default:
		return nil, false
	}
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	case orb.Ring:
		return planar.RingContains(t, p)
	default:
		return g.Bound().Contains(p)
	}
}

func reduce(samples []float64, reducers []domain.Reducer) (map[domain.Reducer]float64, error) {
	var sum, sumSq float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		sum += v
		sumSq += v * v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	n := len(samples)

	out := make(map[domain.Reducer]float64, len(reducers))
	for _, r := range reducers {
		switch r {
		case domain.ReducerMean:
			out[r] = sum / float64(n)
		case domain.ReducerStdDev:
			out[r] = populationStdDev(n, sum, sumSq)
		case domain.ReducerMin:
			out[r] = lo
		case domain.ReducerMax:
			out[r] = hi
		default:
			return nil, fmt.Errorf("unsupported reducer %q", r)
		}
	}
	return out, nil
}

func populationStdDev(n int, sum, sumSq float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	v := sumSq/float64(n) - mean*mean
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}
