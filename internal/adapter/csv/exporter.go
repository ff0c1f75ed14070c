// Package csv writes enriched collections as CSV tables, one row per feature.
package csv

import (
	"context"
	stdcsv "encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gocarina/gocsv"
	orbjson "github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// Fixed columns framing the attribute columns.
const (
	KeyColumn      = "system:index"
	GeometryColumn = ".geo"
)

// Exporter writes enriched collections to <dir>/<name>.csv.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// Export writes the key column, every attribute in sorted order, and the
// geometry as GeoJSON. Null and absent attributes are empty cells.
func (x *Exporter) Export(ctx context.Context, e domain.EnrichedCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(x.dir, e.Name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := gocsv.NewSafeCSVWriter(stdcsv.NewWriter(f))
	if err := writeRows(w, e.Collection); err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", e.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	x.logger.Info("csv export written", "path", path, "rows", e.Collection.Len())
	return nil
}

func writeRows(w *gocsv.SafeCSVWriter, c domain.FeatureCollection) error {
	columns := Columns(c)
	header := append([]string{KeyColumn}, columns...)
	header = append(header, GeometryColumn)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, f := range c.Features {
		row := make([]string, 0, len(header))
		row = append(row, f.Key)
		for _, col := range columns {
			cell, err := formatCell(f.Properties[col])
			if err != nil {
				return fmt.Errorf("feature %s column %s: %w", f.Key, col, err)
			}
			row = append(row, cell)
		}
		geo, err := formatGeometry(f)
		if err != nil {
			return fmt.Errorf("feature %s geometry: %w", f.Key, err)
		}
		row = append(row, geo)
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Columns returns the sorted union of attribute names across c.
func Columns(c domain.FeatureCollection) []string {
	seen := map[string]struct{}{}
	for _, f := range c.Features {
		for k := range f.Properties {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatCell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func formatGeometry(f domain.Feature) (string, error) {
	if f.Geometry == nil {
		return "", nil
	}
	data, err := orbjson.NewGeometry(f.Geometry).MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
