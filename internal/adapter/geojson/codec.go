// Package geojson reads and writes feature collections as GeoJSON files.
package geojson

import (
	"fmt"
	"strconv"

	orbjson "github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// Decode parses a GeoJSON FeatureCollection. Feature ids become keys;
// features without an id are keyed by position.
func Decode(data []byte, name string) (domain.FeatureCollection, error) {
	fc, err := orbjson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("decode feature collection: %w", err)
	}
	return FromGeoJSON(fc, name), nil
}

// FromGeoJSON converts an orb feature collection into the domain model.
func FromGeoJSON(fc *orbjson.FeatureCollection, name string) domain.FeatureCollection {
	out := domain.FeatureCollection{Name: name, Features: make([]domain.Feature, 0, len(fc.Features))}
	for i, f := range fc.Features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		out.Features = append(out.Features, domain.Feature{
			Key:        featureKey(f.ID, i),
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return out
}

// ToGeoJSON converts a domain collection into an orb feature collection.
// Keys are written as feature ids.
func ToGeoJSON(c domain.FeatureCollection) *orbjson.FeatureCollection {
	fc := orbjson.NewFeatureCollection()
	for _, f := range c.Features {
		gf := orbjson.NewFeature(f.Geometry)
		gf.ID = f.Key
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}

// Encode marshals a collection as a GeoJSON FeatureCollection.
func Encode(c domain.FeatureCollection) ([]byte, error) {
	data, err := ToGeoJSON(c).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return data, nil
}

func featureKey(id any, pos int) string {
	switch v := id.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return strconv.Itoa(pos)
}
