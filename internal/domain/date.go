package domain

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical string form written back to the date
// attribute once a timestamp is resolved.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultTimezoneOffset is the static shift from UTC to local civil time.
const DefaultTimezoneOffset = 2 * time.Hour

// DateFields names the attributes a DateResolver reads.
type DateFields struct {
	Date      string // pre-resolved date, also the output attribute
	UTC       string // raw UTC timestamp string
	Index     string // identifier beginning with YYYYMMDD
	StartTime string // packed HHMM start time
}

// DefaultDateFields returns the attribute names used by the landslide catalogue.
func DefaultDateFields() DateFields {
	return DateFields{
		Date:      "formatted_date",
		UTC:       "utc_date",
		Index:     "id",
		StartTime: "start_time",
	}
}

// DateResolver derives one local timestamp per feature from heterogeneous
// date attributes. Unparseable input resolves to absent with a warning.
type DateResolver struct {
	fields DateFields
	zone   *time.Location
	logger *slog.Logger
}

// NewDateResolver creates a resolver applying a fixed offset to raw instants.
func NewDateResolver(fields DateFields, offset time.Duration, logger *slog.Logger) *DateResolver {
	return &DateResolver{
		fields: fields,
		zone:   fixedZone(offset),
		logger: logger,
	}
}

// DateAttributeOnly returns a resolver that reads only the pre-resolved date
// attribute, ignoring the raw forms.
func (r *DateResolver) DateAttributeOnly() *DateResolver {
	return &DateResolver{
		fields: DateFields{Date: r.fields.Date},
		zone:   r.zone,
		logger: r.logger,
	}
}

func fixedZone(offset time.Duration) *time.Location {
	secs := int(offset / time.Second)
	name := "UTC"
	if secs != 0 {
		h := offset.Hours()
		name = "UTC" + strconv.FormatFloat(h, 'f', -1, 64)
		if secs > 0 {
			name = "UTC+" + strconv.FormatFloat(h, 'f', -1, 64)
		}
	}
	return time.FixedZone(name, secs)
}

// Zone returns the fixed local zone resolved timestamps are expressed in.
func (r *DateResolver) Zone() *time.Location { return r.zone }

// Resolve returns the feature's timestamp. Forms are tried in order:
// pre-resolved date, raw UTC string, then index plus packed start time.
func (r *DateResolver) Resolve(f Feature) (time.Time, bool) {
	if v, ok := f.Get(r.fields.Date); ok {
		t, ok := r.parseResolved(v)
		if !ok {
			r.logger.Warn("unparseable date attribute", "key", f.Key, "field", r.fields.Date, "value", v)
		}
		return t, ok
	}
	if r.fields.UTC == "" {
		return time.Time{}, false
	}
	if s := f.String(r.fields.UTC); s != "" {
		t, ok := r.ParseUTC(s)
		if !ok {
			r.logger.Warn("malformed utc timestamp", "key", f.Key, "field", r.fields.UTC, "value", s)
		}
		return t, ok
	}
	if r.fields.Index == "" || r.fields.StartTime == "" {
		return time.Time{}, false
	}
	idx := f.String(r.fields.Index)
	packed, hasTime := f.Number(r.fields.StartTime)
	if idx != "" && hasTime {
		t, ok := r.ParseIndexed(idx, int(packed))
		if !ok {
			r.logger.Warn("malformed index date", "key", f.Key, "index", idx, "start_time", packed)
		}
		return t, ok
	}
	return time.Time{}, false
}

// ParseUTC parses a raw timestamp whose first ten characters are a date,
// [11:13] the hour, [14:16] the minute and [17:19] the second. Seconds default
// to 00 when the string is too short to carry them.
func (r *DateResolver) ParseUTC(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 16 {
		return time.Time{}, false
	}
	date, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, false
	}
	sec := "00"
	if len(s) >= 19 {
		sec = s[17:19]
	}
	h, okH := clockField(s[11:13], 23)
	m, okM := clockField(s[14:16], 59)
	sc, okS := clockField(sec, 59)
	if !okH || !okM || !okS {
		return time.Time{}, false
	}
	utc := time.Date(date.Year(), date.Month(), date.Day(), h, m, sc, 0, time.UTC)
	return utc.In(r.zone), true
}

// ParseIndexed combines an identifier starting with YYYYMMDD and an HHMM
// packed start time (hour = v/100, minute = v%100).
func (r *DateResolver) ParseIndexed(index string, packed int) (time.Time, bool) {
	if len(index) < 8 || packed < 0 {
		return time.Time{}, false
	}
	y, errY := strconv.Atoi(index[0:4])
	mo, errM := strconv.Atoi(index[4:6])
	d, errD := strconv.Atoi(index[6:8])
	if errY != nil || errM != nil || errD != nil || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	hour, minute := packed/100, packed%100
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	utc := time.Date(y, time.Month(mo), d, hour, minute, 0, 0, time.UTC)
	if utc.Day() != d {
		return time.Time{}, false
	}
	return utc.In(r.zone), true
}

// parseResolved accepts an already-local date value. No offset is applied.
func (r *DateResolver) parseResolved(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{TimestampLayout, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.ParseInLocation(layout, s, r.zone); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// ResolveCollection writes the canonical timestamp string into the date
// attribute of every feature, or removes the attribute when unresolvable.
func (r *DateResolver) ResolveCollection(c FeatureCollection) FeatureCollection {
	out := c.Clone()
	var absent int
	for i := range out.Features {
		t, ok := r.Resolve(out.Features[i])
		if !ok {
			delete(out.Features[i].Properties, r.fields.Date)
			absent++
			continue
		}
		out.Features[i].Properties[r.fields.Date] = t.Format(TimestampLayout)
	}
	if absent > 0 {
		r.logger.Info("features without resolvable date", "collection", c.Name, "count", absent)
	}
	return out
}

func clockField(s string, maxValue int) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxValue {
		return 0, false
	}
	return n, true
}
