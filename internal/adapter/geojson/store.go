package geojson

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

const fileExt = ".geojson"

// Store implements domain.FeatureStore over a directory of GeoJSON files.
// Asset "a/b/c" is read from <dir>/a/b/c.geojson.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// LoadFeatures reads the collection stored under asset.
func (s *Store) LoadFeatures(ctx context.Context, asset string) (domain.FeatureCollection, error) {
	if err := ctx.Err(); err != nil {
		return domain.FeatureCollection{}, err
	}

	path := s.path(asset)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.FeatureCollection{}, fmt.Errorf("%s: %w", asset, domain.ErrAssetNotFound)
		}
		return domain.FeatureCollection{}, fmt.Errorf("read %s: %w", asset, err)
	}

	c, err := Decode(data, asset)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("%s: %w", asset, err)
	}
	s.logger.Info("features loaded", "asset", asset, "count", c.Len())
	return c, nil
}

// Save writes c under asset, creating parent directories.
func (s *Store) Save(asset string, c domain.FeatureCollection) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	path := s.path(asset)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create asset dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", asset, err)
	}
	return nil
}

func (s *Store) path(asset string) string {
	return filepath.Join(s.dir, filepath.FromSlash(asset)+fileExt)
}
