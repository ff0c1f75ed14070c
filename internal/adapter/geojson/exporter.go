package geojson

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// Exporter writes enriched collections to <dir>/<name>.geojson.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// Export writes e as a FeatureCollection carrying the run metadata as
// foreign members.
func (x *Exporter) Export(ctx context.Context, e domain.EnrichedCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fc := ToGeoJSON(e.Collection)
	fc.ExtraMembers = map[string]any{
		"name":         e.Name,
		"window":       e.Spec.Label(),
		"source":       e.Spec.Source.Name,
		"run_id":       e.RunID,
		"processed_at": e.ProcessedAt.UTC().Format(time.RFC3339),
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Name, err)
	}

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(x.dir, e.Name+fileExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	x.logger.Info("geojson export written", "path", path, "features", e.Collection.Len())
	return nil
}
