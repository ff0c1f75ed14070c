// Command genmock writes a reproducible local dataset for the pipeline: a grid
// of polygon mapping units, dated landslide points, and daily GSMaP and
// CHIRPS precipitation layers covering the same area. The default asset names
// match the defaults in internal/config, so `go run ./cmd/etl` works against
// the generated data without further setup.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -feature-dir data/mock/features \
//	  -raster-dir data/mock/rasters \
//	  -seed 42
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/grid"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// Area covered by the mock dataset, roughly the Eastern Alps.
var area = orb.Bound{Min: orb.Point{10, 46}, Max: orb.Point{12, 47}}

var baseDate = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

type options struct {
	featureDir       string
	rasterDir        string
	targetAsset      string
	counterpartAsset string
	seed             uint64
	unitsPerSide     int
	events           int
	days             int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.StringVar(&o.featureDir, "feature-dir", "data/mock/features", "directory for GeoJSON feature assets")
	flag.StringVar(&o.rasterDir, "raster-dir", "data/mock/rasters", "directory for gridded raster assets")
	flag.StringVar(&o.targetAsset, "target-asset", "projects/stgee-dataset/assets/polygons_gridcoll_14-11-2024", "asset name of the mapping units")
	flag.StringVar(&o.counterpartAsset, "counterpart-asset", "projects/stgee-dataset/assets/pointsDate", "asset name of the landslide points")
	flag.Uint64Var(&o.seed, "seed", 42, "random seed")
	flag.IntVar(&o.unitsPerSide, "units", 8, "mapping units along each side of the area")
	flag.IntVar(&o.events, "events", 60, "number of landslide points")
	flag.IntVar(&o.days, "days", 90, "days of daily precipitation layers starting 2020-01-01")
	flag.Parse()

	if o.unitsPerSide < 1 || o.events < 0 || o.days < 1 {
		flag.Usage()
		return fmt.Errorf("units and days must be positive, events non-negative")
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	store := geojson.NewStore(o.featureDir, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	units := mappingUnits(o.unitsPerSide)
	if err := store.Save(o.targetAsset, units); err != nil {
		return fmt.Errorf("writing mapping units: %w", err)
	}
	log.Printf("wrote %d mapping units to %s", units.Len(), o.targetAsset)

	points, forms := landslides(rng, o.events, o.days)
	if err := store.Save(o.counterpartAsset, points); err != nil {
		return fmt.Errorf("writing landslide points: %w", err)
	}
	log.Printf("wrote %d landslide points to %s", points.Len(), o.counterpartAsset)
	for _, form := range []string{"formatted", "utc", "indexed", "undated"} {
		log.Printf("  %-9s %d", form, forms[form])
	}

	for _, src := range []struct {
		source    domain.RasterSource
		pixelSize float64
		meanRate  float64
	}{
		{domain.SourceGSMaP, 0.1, 0.4},
		{domain.SourceCHIRPS, 0.05, 6},
	} {
		n, err := writeRasters(rng, o.rasterDir, src.source, src.pixelSize, src.meanRate, o.days)
		if err != nil {
			return fmt.Errorf("writing %s layers: %w", src.source.Name, err)
		}
		log.Printf("wrote %d %s layers", n, src.source.Name)
	}
	return nil
}

// mappingUnits tiles the area with n x n square polygons.
func mappingUnits(n int) domain.FeatureCollection {
	w := (area.Max[0] - area.Min[0]) / float64(n)
	h := (area.Max[1] - area.Min[1]) / float64(n)
	c := domain.FeatureCollection{Name: "mapping_units"}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			x, y := area.Min[0]+float64(col)*w, area.Min[1]+float64(row)*h
			ring := orb.Ring{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}, {x, y}}
			c.Features = append(c.Features, domain.Feature{
				Key:      strconv.Itoa(len(c.Features)),
				Geometry: orb.Polygon{ring},
				Properties: map[string]any{
					"su_id":   fmt.Sprintf("SU%03d", len(c.Features)),
					"area_km": round(w*h*grid.MetersPerDegree*grid.MetersPerDegree*math.Cos(y*math.Pi/180)/1e6, 2),
				},
			})
		}
	}
	return c
}

// landslides scatters points over the area. The date attribute rotates
// through every form the date resolver accepts, plus undated points.
func landslides(rng *rand.Rand, n, days int) (domain.FeatureCollection, map[string]int) {
	c := domain.FeatureCollection{Name: "landslides"}
	forms := map[string]int{}
	for i := 0; i < n; i++ {
		p := orb.Point{
			round(area.Min[0]+rng.Float64()*(area.Max[0]-area.Min[0]), 5),
			round(area.Min[1]+rng.Float64()*(area.Max[1]-area.Min[1]), 5),
		}
		// Leave the first two weeks free so trailing windows stay inside the layers.
		lead := 0
		if days > 14 {
			lead = 14
		}
		at := baseDate.Add(time.Duration((lead+rng.IntN(days-lead))*24+rng.IntN(24)) * time.Hour).
			Add(time.Duration(rng.IntN(60)) * time.Minute)

		idx := at.Format("20060102") + fmt.Sprintf("%04d", i)
		props := map[string]any{"id": idx, "trigger": "rainfall"}
		switch i % 4 {
		case 0:
			props["formatted_date"] = at.Add(domain.DefaultTimezoneOffset).Format(domain.TimestampLayout)
			forms["formatted"]++
		case 1:
			props["utc_date"] = at.Format(time.RFC3339)
			forms["utc"]++
		case 2:
			props["start_time"] = at.Hour()*100 + at.Minute()
			forms["indexed"]++
		default:
			props["id"] = fmt.Sprintf("X%04d", i)
			forms["undated"]++
		}
		c.Features = append(c.Features, domain.Feature{Key: strconv.Itoa(i), Geometry: p, Properties: props})
	}
	return c, forms
}

// writeRasters writes one layer per day. Rain falls on roughly a third of the
// days with exponentially distributed intensity and a west-east gradient.
func writeRasters(rng *rand.Rand, root string, src domain.RasterSource, pixelSize, meanRate float64, days int) (int, error) {
	width := int(math.Round((area.Max[0] - area.Min[0]) / pixelSize))
	height := int(math.Round((area.Max[1] - area.Min[1]) / pixelSize))
	dir := grid.AssetDir(root, src.Asset)
	nodata := -9999.0

	for d := 0; d < days; d++ {
		values := make([]float64, width*height)
		wet := rng.Float64() < 0.35
		for i := range values {
			if !wet {
				continue
			}
			col := i % width
			gradient := 0.5 + float64(col)/float64(width)
			values[i] = round(rng.ExpFloat64()*meanRate*gradient, 3)
		}
		// A handful of sensor gaps exercise nodata handling.
		if rng.Float64() < 0.1 {
			values[rng.IntN(len(values))] = nodata
		}
		layer := grid.Layer{
			Time:      baseDate.AddDate(0, 0, d),
			Origin:    orb.Point{area.Min[0], area.Max[1]},
			PixelSize: pixelSize,
			Width:     width,
			Height:    height,
			NoData:    &nodata,
			Bands:     map[string][]float64{src.Band: values},
		}
		if err := grid.WriteLayer(dir, layer); err != nil {
			return d, err
		}
	}
	return days, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
