package domain

import (
	"context"
	"time"
)

// EnrichedCollection is one window's output, ready for export.
type EnrichedCollection struct {
	Name        string
	Spec        WindowSpec
	Collection  FeatureCollection
	RunID       string
	ProcessedAt time.Time
}

// Exporter writes an enriched collection to a destination.
type Exporter interface {
	Export(ctx context.Context, e EnrichedCollection) error
}

// ExportName names the output of a window, e.g. Filtered_7d_Rainfall.
// Sources other than GSMaP are suffixed so outputs never collide.
func ExportName(spec WindowSpec) string {
	name := "Filtered_" + spec.Label() + "_Rainfall"
	if spec.Source.Name != "" && spec.Source.Name != SourceGSMaP.Name {
		name += "_" + spec.Source.Name
	}
	return name
}
