package domain

import (
	"fmt"
	"log/slog"
)

// JoinMode selects how a target and a counterpart are matched.
type JoinMode string

const (
	// JoinBounds matches when bounding boxes intersect.
	JoinBounds JoinMode = "bounds"
	// JoinExact matches on true geometric intersection.
	JoinExact JoinMode = "exact"
)

// ParseJoinMode validates a join mode name.
func ParseJoinMode(s string) (JoinMode, error) {
	switch JoinMode(s) {
	case JoinBounds, JoinExact:
		return JoinMode(s), nil
	default:
		return "", fmt.Errorf("unknown join mode %q", s)
	}
}

// JoinOptions configures the spatial join.
type JoinOptions struct {
	Mode JoinMode

	// FirstMatch copies counterpart attribute (key) to target attribute (value)
	// from the first matched counterpart. Which counterpart is "first" follows
	// counterpart collection order and is otherwise unspecified.
	FirstMatch map[string]string

	// Aggregate attaches CountField and IDsField.
	Aggregate bool

	IDField       string // counterpart identifier collected into IDsField
	PresenceField string
	CountField    string
	IDsField      string
}

// DefaultJoinOptions returns the options used for the landslide catalogue:
// event date and identifier copied from the first point, presence and count
// always written.
func DefaultJoinOptions() JoinOptions {
	return JoinOptions{
		Mode: JoinBounds,
		FirstMatch: map[string]string{
			"formatted_date": "formatted_date",
			"id":             "event_id",
		},
		Aggregate:     true,
		IDField:       "id",
		PresenceField: "presence_flag",
		CountField:    "match_count",
		IDsField:      "match_ids",
	}
}

// PresenceFlag is 1 when at least one counterpart matched, 0 otherwise.
func PresenceFlag(matchCount int) int {
	if matchCount > 0 {
		return 1
	}
	return 0
}

// Join returns a new target collection where each feature carries attributes
// aggregated from the counterparts intersecting it. Neither input is modified.
func Join(targets, counterparts FeatureCollection, opts JoinOptions, logger *slog.Logger) FeatureCollection {
	out := targets.Clone()

	// Only counterparts inside the overall target extent can match anything.
	candidates := counterparts
	if b, ok := targets.Bound(); ok {
		candidates = counterparts.FilterBounds(b)
	}
	logger.Debug("join candidates",
		"targets", targets.Len(),
		"counterparts", counterparts.Len(),
		"candidates", candidates.Len(),
		"mode", opts.Mode,
	)

	matchedTargets := 0
	for i := range out.Features {
		target := &out.Features[i]
		matches := matchCounterparts(target, candidates, opts.Mode)
		applyFirstMatch(target, matches, opts.FirstMatch)

		if opts.Aggregate {
			ids := make([]any, 0, len(matches))
			for _, m := range matches {
				if id, ok := m.Get(opts.IDField); ok {
					ids = append(ids, id)
				}
			}
			target.Properties[opts.CountField] = len(matches)
			target.Properties[opts.IDsField] = ids
		}
		target.Properties[opts.PresenceField] = PresenceFlag(len(matches))
		if len(matches) > 0 {
			matchedTargets++
		}
	}

	logger.Info("spatial join complete",
		"targets", out.Len(),
		"present", matchedTargets,
		"absent", out.Len()-matchedTargets,
	)
	return out
}

func matchCounterparts(target *Feature, candidates FeatureCollection, mode JoinMode) []Feature {
	if target.Geometry == nil {
		return nil
	}
	local := candidates.FilterBounds(target.Geometry)
	if mode != JoinExact {
		return local.Features
	}
	matches := make([]Feature, 0, local.Len())
	for _, c := range local.Features {
		if Intersects(target.Geometry, c.Geometry) {
			matches = append(matches, c)
		}
	}
	return matches
}

func applyFirstMatch(target *Feature, matches []Feature, fields map[string]string) {
	for src, dst := range fields {
		if len(matches) == 0 {
			delete(target.Properties, dst)
			continue
		}
		v, ok := matches[0].Get(src)
		if !ok {
			delete(target.Properties, dst)
			continue
		}
		target.Properties[dst] = v
	}
}
