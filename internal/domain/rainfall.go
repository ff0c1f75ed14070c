package domain

import (
	"context"
	"fmt"
	"time"
)

// ResultKind tags which branch produced a RainfallResult.
type ResultKind string

const (
	// ResultComputed carries statistics read from the archive.
	ResultComputed ResultKind = "computed"
	// ResultFallback is written when the feature has no timestamp; all
	// statistics are zero.
	ResultFallback ResultKind = "fallback"
	// ResultUnavailable is written when the archive could not answer; all
	// statistics are null.
	ResultUnavailable ResultKind = "unavailable"
)

// StatusField records the ResultKind on every enriched feature.
const StatusField = "rain_status"

// RainfallResult is the outcome of aggregating one feature for one window.
type RainfallResult struct {
	Kind  ResultKind
	Stats map[string]float64
}

// Fallback returns the zero-valued result for a window.
func Fallback(spec WindowSpec) RainfallResult {
	stats := make(map[string]float64, 4)
	for _, name := range spec.AttributeNames() {
		stats[name] = 0
	}
	return RainfallResult{Kind: ResultFallback, Stats: stats}
}

// Unavailable returns the null-valued result for a window.
func Unavailable() RainfallResult {
	return RainfallResult{Kind: ResultUnavailable}
}

// RainfallStage computes rainfall statistics for a feature over a window.
type RainfallStage struct {
	archive   RasterArchive
	resolver  *DateResolver
	maxPixels int64
}

// NewRainfallStage creates a stage reading from archive. Features are dated
// only by the resolver's date attribute, which the join copies from the
// matched event; a target's own raw date fields are ignored. A non-positive
// maxPixels uses DefaultMaxPixels.
func NewRainfallStage(archive RasterArchive, resolver *DateResolver, maxPixels int64) *RainfallStage {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &RainfallStage{archive: archive, resolver: resolver.DateAttributeOnly(), maxPixels: maxPixels}
}

// Aggregate returns the computed statistics, or the fallback when the feature
// has no resolvable timestamp. Archive errors are returned unchanged so the
// caller can decide whether to retry.
func (s *RainfallStage) Aggregate(ctx context.Context, f Feature, spec WindowSpec) (RainfallResult, error) {
	t, ok := s.resolver.Resolve(f)
	if !ok {
		return Fallback(spec), nil
	}
	start, end := queryInterval(spec, t)
	stack := NewStackRef(spec.Source.Asset).
		FilterDate(start, end).
		SelectBand(spec.Source.Band)

	if spec.Mode == WindowSingleDay {
		return s.singleDay(ctx, f, spec, stack)
	}
	return s.trailing(ctx, f, spec, stack)
}

func (s *RainfallStage) trailing(ctx context.Context, f Feature, spec WindowSpec, stack StackRef) (RainfallResult, error) {
	names := spec.AttributeNames()

	sum, err := s.reduce(ctx, f, spec, stack, CompositeSum, ReducerMean)
	if err != nil {
		return RainfallResult{}, fmt.Errorf("cumulative mean: %w", err)
	}
	std, err := s.reduce(ctx, f, spec, stack, CompositeStdDev, ReducerMean)
	if err != nil {
		return RainfallResult{}, fmt.Errorf("temporal stddev: %w", err)
	}

	return RainfallResult{
		Kind: ResultComputed,
		Stats: map[string]float64{
			names[0]: sum[ReducerMean],
			names[1]: std[ReducerMean],
		},
	}, nil
}

func (s *RainfallStage) singleDay(ctx context.Context, f Feature, spec WindowSpec, stack StackRef) (RainfallResult, error) {
	names := spec.AttributeNames()

	meanStd, err := s.reduce(ctx, f, spec, stack, CompositeFirst, ReducerMean, ReducerStdDev)
	if err != nil {
		return RainfallResult{}, fmt.Errorf("daily mean/stddev: %w", err)
	}
	minMax, err := s.reduce(ctx, f, spec, stack, CompositeFirst, ReducerMin, ReducerMax)
	if err != nil {
		return RainfallResult{}, fmt.Errorf("daily min/max: %w", err)
	}

	return RainfallResult{
		Kind: ResultComputed,
		Stats: map[string]float64{
			names[0]: meanStd[ReducerMean],
			names[1]: meanStd[ReducerStdDev],
			names[2]: minMax[ReducerMin],
			names[3]: minMax[ReducerMax],
		},
	}, nil
}

func (s *RainfallStage) reduce(ctx context.Context, f Feature, spec WindowSpec, stack StackRef, c Composite, reducers ...Reducer) (map[Reducer]float64, error) {
	out, err := s.archive.ZonalReduce(ctx, ZonalRequest{
		Stack:     stack,
		Composite: c,
		Geometry:  f.Geometry,
		Reducers:  reducers,
		Scale:     spec.Source.Scale,
		MaxPixels: s.maxPixels,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range reducers {
		if _, ok := out[r]; !ok {
			return nil, fmt.Errorf("archive omitted %s: %w", r, ErrNoData)
		}
	}
	return out, nil
}

// Apply returns a copy of f carrying the result's attributes. Unavailable
// results write explicit nulls so the schema stays uniform.
func Apply(f Feature, spec WindowSpec, result RainfallResult) Feature {
	out := f.Clone()
	for _, name := range spec.AttributeNames() {
		if result.Kind == ResultUnavailable {
			out.Properties[name] = nil
			continue
		}
		out.Properties[name] = result.Stats[name]
	}
	out.Properties[StatusField] = string(result.Kind)
	return out
}

// ResolvedAt returns the archive window queried for a feature, e.g. for
// logging. ok is false when the feature has no timestamp.
func (s *RainfallStage) ResolvedAt(f Feature, spec WindowSpec) (start, end time.Time, ok bool) {
	t, ok := s.resolver.Resolve(f)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, end = queryInterval(spec, t)
	return start, end, true
}

// queryInterval derives the archive window from the local timestamp. Archive
// layers are indexed by the local wall clock read as UTC, so the local fields
// are carried over unchanged rather than converted.
func queryInterval(spec WindowSpec, t time.Time) (time.Time, time.Time) {
	start, end := spec.Interval(t)
	return wallClockUTC(start), wallClockUTC(end)
}

func wallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
