package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// MetersPerDegree converts a reduction scale in meters to grid degrees.
const MetersPerDegree = 111320.0

// Layer is one time step of a gridded raster. Values are row-major, starting
// at the north-west corner given by Origin.
type Layer struct {
	Time      time.Time            `json:"time"`
	Origin    orb.Point            `json:"origin"` // [west, north]
	PixelSize float64              `json:"pixel_size"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	NoData    *float64             `json:"nodata,omitempty"`
	Bands     map[string][]float64 `json:"bands"`
}

func (l Layer) validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return errors.New("non-positive grid dimensions")
	}
	if l.PixelSize <= 0 {
		return errors.New("non-positive pixel size")
	}
	for name, values := range l.Bands {
		if len(values) != l.Width*l.Height {
			return fmt.Errorf("band %s has %d values, want %d", name, len(values), l.Width*l.Height)
		}
	}
	return nil
}

// sameGrid reports whether two layers can be composited pixel by pixel.
func (l Layer) sameGrid(o Layer) bool {
	return l.Origin == o.Origin && l.PixelSize == o.PixelSize && l.Width == o.Width && l.Height == o.Height
}

// index returns the pixel index covering p, or -1 when p is off the grid.
func (l Layer) index(p orb.Point) int {
	col := int(math.Floor((p[0] - l.Origin[0]) / l.PixelSize))
	row := int(math.Floor((l.Origin[1] - p[1]) / l.PixelSize))
	if col < 0 || col >= l.Width || row < 0 || row >= l.Height {
		return -1
	}
	return row*l.Width + col
}

func (l Layer) valid(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return l.NoData == nil || v != *l.NoData
}

// LoadLayers reads every *.json layer under dir, sorted by time.
func LoadLayers(dir string) ([]Layer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read layer dir: %w", err)
	}

	var layers []Layer
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		l, err := readLayer(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Time.Before(layers[j].Time) })
	return layers, nil
}

func readLayer(path string) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layer{}, fmt.Errorf("read layer: %w", err)
	}
	var l Layer
	if err := json.Unmarshal(data, &l); err != nil {
		return Layer{}, fmt.Errorf("decode layer %s: %w", filepath.Base(path), err)
	}
	if err := l.validate(); err != nil {
		return Layer{}, fmt.Errorf("layer %s: %w", filepath.Base(path), err)
	}
	return l, nil
}

// WriteLayer stores l under dir, named by its timestamp.
func WriteLayer(dir string, l Layer) error {
	if err := l.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create layer dir: %w", err)
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode layer: %w", err)
	}
	name := l.Time.UTC().Format("20060102T150405") + ".json"
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// AssetDir maps an archive asset identifier onto a directory below root.
func AssetDir(root, asset string) string {
	return filepath.Join(root, filepath.FromSlash(asset))
}
