package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxPixels is the per-reduction pixel ceiling sent with every request.
const DefaultMaxPixels int64 = 5e12

// RasterSource describes one precipitation product and how it is reduced.
type RasterSource struct {
	Name     string
	Asset    string
	Band     string
	Quantity string  // attribute prefix, e.g. CumRn
	Scale    float64 // reduction scale in meters
}

// Built-in precipitation products.
var (
	SourceGSMaP = RasterSource{
		Name:     "gsmap",
		Asset:    "JAXA/GPM_L3/GSMaP/v8/operational",
		Band:     "hourlyPrecipRateGC",
		Quantity: "CumRn",
		Scale:    1000,
	}
	SourceCHIRPS = RasterSource{
		Name:     "chirps",
		Asset:    "UCSB-CHG/CHIRPS/DAILY",
		Band:     "precipitation",
		Quantity: "DailyRn",
		Scale:    5000,
	}
)

// WindowMode selects how a feature's timestamp becomes a time window.
type WindowMode string

const (
	// WindowTrailing covers [t - Days, t).
	WindowTrailing WindowMode = "trailing"
	// WindowSingleDay covers the local calendar day containing t.
	WindowSingleDay WindowMode = "single_day"
)

// WindowSpec pairs a window definition with the raster source it applies to.
type WindowSpec struct {
	Mode   WindowMode
	Days   int
	Source RasterSource
}

// Trailing returns a trailing-window spec.
func Trailing(days int, src RasterSource) WindowSpec {
	return WindowSpec{Mode: WindowTrailing, Days: days, Source: src}
}

// SingleDay returns a single-day spec.
func SingleDay(src RasterSource) WindowSpec {
	return WindowSpec{Mode: WindowSingleDay, Source: src}
}

// Label is the short window name used in attribute and export names.
func (w WindowSpec) Label() string {
	if w.Mode == WindowSingleDay {
		return "day"
	}
	return strconv.Itoa(w.Days) + "d"
}

// Interval returns the window for a timestamp. Single-day windows follow the
// calendar day of t in t's own location.
func (w WindowSpec) Interval(t time.Time) (time.Time, time.Time) {
	if w.Mode == WindowSingleDay {
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return start, start.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, -w.Days), t
}

// AttributeNames lists the output attributes this window writes, in a stable
// order.
func (w WindowSpec) AttributeNames() []string {
	q := w.Source.Quantity
	if w.Mode == WindowSingleDay {
		return []string{q + "_mean", q + "_std", q + "_min", q + "_max"}
	}
	prefix := fmt.Sprintf("%s_%dd", q, w.Days)
	return []string{prefix + "_mean", prefix + "_std"}
}

// ParseWindowSpecs parses a comma-separated list such as "gsmap:7,gsmap:14,chirps:day".
// A bare number uses the first source.
func ParseWindowSpecs(s string, sources map[string]RasterSource, fallback RasterSource) ([]WindowSpec, error) {
	var specs []WindowSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		src := fallback
		window := part
		if name, rest, ok := strings.Cut(part, ":"); ok {
			found, exists := sources[name]
			if !exists {
				return nil, fmt.Errorf("unknown raster source %q", name)
			}
			src = found
			window = rest
		}
		if window == "day" {
			specs = append(specs, SingleDay(src))
			continue
		}
		days, err := strconv.Atoi(window)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid window %q", part)
		}
		specs = append(specs, Trailing(days, src))
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no windows in %q", s)
	}
	return specs, nil
}
