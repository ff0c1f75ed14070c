package domain

import (
	"strconv"

	"github.com/paulmach/orb"
)

// Feature is a geometry plus a bag of attributes. Properties map attribute
// names to string, number, list, or nil values. A missing key means the
// attribute is absent; a nil value means it is present but null.
type Feature struct {
	Key        string
	Geometry   orb.Geometry
	Properties map[string]any
}

// Clone returns a copy whose Properties map can be modified without touching
// the receiver. Geometry is shared; it is never mutated.
func (f Feature) Clone() Feature {
	props := make(map[string]any, len(f.Properties)+4)
	for k, v := range f.Properties {
		props[k] = v
	}
	return Feature{Key: f.Key, Geometry: f.Geometry, Properties: props}
}

// Get returns the attribute value and whether it is present and non-nil.
func (f Feature) Get(name string) (any, bool) {
	v, ok := f.Properties[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the attribute formatted as a string, or "" when absent.
func (f Feature) String(name string) string {
	v, ok := f.Get(name)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// Number returns the attribute as float64. Numeric strings are accepted.
func (f Feature) Number(name string) (float64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// FeatureCollection is an ordered set of features read from a store.
type FeatureCollection struct {
	Name     string
	Features []Feature
}

// Len returns the number of features.
func (c FeatureCollection) Len() int { return len(c.Features) }

// Empty reports whether the collection holds no features.
func (c FeatureCollection) Empty() bool { return len(c.Features) == 0 }

// Clone deep-copies the feature attribute maps.
func (c FeatureCollection) Clone() FeatureCollection {
	out := FeatureCollection{Name: c.Name, Features: make([]Feature, len(c.Features))}
	for i := range c.Features {
		out.Features[i] = c.Features[i].Clone()
	}
	return out
}

// Reindex assigns a dense "0".."n-1" key sequence in collection order.
// Attributes are copied unchanged; only keys differ from the input.
func (c FeatureCollection) Reindex() FeatureCollection {
	out := c.Clone()
	for i := range out.Features {
		out.Features[i].Key = strconv.Itoa(i)
	}
	return out
}

// Bound returns the union of all feature bounds. ok is false for an empty
// collection or one without geometries.
func (c FeatureCollection) Bound() (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	for i := range c.Features {
		g := c.Features[i].Geometry
		if g == nil {
			continue
		}
		if !found {
			b = g.Bound()
			found = true
			continue
		}
		b = b.Union(g.Bound())
	}
	return b, found
}

// FilterBounds keeps the features whose bounding box intersects g's bounding
// box. Features are shared with the receiver, not copied.
func (c FeatureCollection) FilterBounds(g orb.Geometry) FeatureCollection {
	out := FeatureCollection{Name: c.Name}
	if g == nil {
		return out
	}
	bound := g.Bound()
	for i := range c.Features {
		if c.Features[i].Geometry == nil {
			continue
		}
		if bound.Intersects(c.Features[i].Geometry.Bound()) {
			out.Features = append(out.Features, c.Features[i])
		}
	}
	return out
}
