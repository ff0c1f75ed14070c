package domain

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrAssetNotFound means a store has no asset under the requested identifier.
	// A run cannot recover from it.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrNoData means the requested window selected no raster layers.
	ErrNoData = errors.New("no raster data in window")

	// ErrTooManyPixels means a reduction exceeded its pixel ceiling.
	ErrTooManyPixels = errors.New("reduction exceeds max pixels")
)

// FeatureStore loads vector feature collections by resource identifier.
type FeatureStore interface {
	LoadFeatures(ctx context.Context, asset string) (FeatureCollection, error)
}

// Composite collapses a raster stack to a single image.
type Composite string

const (
	CompositeFirst  Composite = "first"
	CompositeSum    Composite = "sum"
	CompositeStdDev Composite = "stdDev"
)

// Reducer is a zonal statistic computed over the pixels inside a geometry.
type Reducer string

const (
	ReducerMean   Reducer = "mean"
	ReducerStdDev Reducer = "stdDev"
	ReducerMin    Reducer = "min"
	ReducerMax    Reducer = "max"
)

// StackRef describes a time-filtered, band-selected raster stack without
// evaluating it. The zero Start/End selects the whole archive.
type StackRef struct {
	Asset string    `json:"asset"`
	Band  string    `json:"band,omitempty"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewStackRef references every layer of an archive asset.
func NewStackRef(asset string) StackRef {
	return StackRef{Asset: asset}
}

// FilterDate narrows the stack to layers valid in [start, end).
func (s StackRef) FilterDate(start, end time.Time) StackRef {
	s.Start = start
	s.End = end
	return s
}

// SelectBand narrows the stack to one band.
func (s StackRef) SelectBand(name string) StackRef {
	s.Band = name
	return s
}

// Contains reports whether a layer time falls inside the stack's window.
func (s StackRef) Contains(t time.Time) bool {
	if !s.Start.IsZero() && t.Before(s.Start) {
		return false
	}
	if !s.End.IsZero() && !t.Before(s.End) {
		return false
	}
	return true
}

// ZonalRequest asks an archive to composite a stack and reduce the resulting
// image over a geometry.
type ZonalRequest struct {
	Stack     StackRef
	Composite Composite
	Geometry  orb.Geometry
	Reducers  []Reducer
	Scale     float64
	MaxPixels int64
}

// RasterArchive evaluates zonal reductions against a time-indexed raster store.
type RasterArchive interface {
	ZonalReduce(ctx context.Context, req ZonalRequest) (map[Reducer]float64, error)
}
