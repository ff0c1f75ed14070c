package domain

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResolver() *DateResolver {
	return NewDateResolver(DefaultDateFields(), DefaultTimezoneOffset, discardLogger())
}

func pointFeature(props map[string]any) Feature {
	return Feature{Key: "0", Properties: props}
}

func TestDateResolver_ParseUTC(t *testing.T) {
	r := testResolver()

	t.Run("full timestamp shifted two hours", func(t *testing.T) {
		got, ok := r.ParseUTC("2015-03-12T07:45:30Z")
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:30", got.Format(TimestampLayout))
		_, offset := got.Zone()
		assert.Equal(t, 7200, offset)
	})

	t.Run("missing seconds default to 00", func(t *testing.T) {
		got, ok := r.ParseUTC("2015-03-12T07:45")
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:00", got.Format(TimestampLayout))
	})

	t.Run("offset crosses midnight", func(t *testing.T) {
		got, ok := r.ParseUTC("2015-03-12T23:10:00Z")
		require.True(t, ok)
		assert.Equal(t, "2015-03-13 01:10:00", got.Format(TimestampLayout))
	})

	t.Run("space separator", func(t *testing.T) {
		got, ok := r.ParseUTC("2015-03-12 07:45:30")
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:30", got.Format(TimestampLayout))
	})

	for _, bad := range []string{"", "2015-03-12", "2015-03-12T07", "2015-13-12T07:45:30Z", "2015-03-12Tab:45:30Z", "2015-03-12T25:45:30Z"} {
		t.Run("malformed "+bad, func(t *testing.T) {
			_, ok := r.ParseUTC(bad)
			assert.False(t, ok)
		})
	}
}

func TestDateResolver_ParseIndexed(t *testing.T) {
	r := testResolver()

	got, ok := r.ParseIndexed("20150312_0042", 745)
	require.True(t, ok)
	assert.Equal(t, "2015-03-12 09:45:00", got.Format(TimestampLayout))

	got, ok = r.ParseIndexed("20150312", 0)
	require.True(t, ok)
	assert.Equal(t, "2015-03-12 02:00:00", got.Format(TimestampLayout))

	cases := []struct {
		name   string
		index  string
		packed int
	}{
		{"short index", "201503", 745},
		{"non-numeric", "2015AB12", 745},
		{"bad month", "20151312", 745},
		{"bad hour", "20150312", 2500},
		{"bad minute", "20150312", 1275},
		{"impossible day", "20150231", 100},
		{"negative", "20150312", -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := r.ParseIndexed(tc.index, tc.packed)
			assert.False(t, ok)
		})
	}
}

func TestDateResolver_Resolve_Precedence(t *testing.T) {
	r := testResolver()

	t.Run("pre-resolved date wins and is not shifted", func(t *testing.T) {
		f := pointFeature(map[string]any{
			"formatted_date": "2015-03-12 09:45:30",
			"utc_date":       "2001-01-01T00:00:00Z",
		})
		got, ok := r.Resolve(f)
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:30", got.Format(TimestampLayout))
	})

	t.Run("date-only pre-resolved value", func(t *testing.T) {
		got, ok := r.Resolve(pointFeature(map[string]any{"formatted_date": "2015-03-12"}))
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 00:00:00", got.Format(TimestampLayout))
	})

	t.Run("time value used as-is", func(t *testing.T) {
		want := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
		got, ok := r.Resolve(pointFeature(map[string]any{"formatted_date": want}))
		require.True(t, ok)
		assert.True(t, want.Equal(got))
	})

	t.Run("utc string", func(t *testing.T) {
		got, ok := r.Resolve(pointFeature(map[string]any{"utc_date": "2015-03-12T07:45:30Z"}))
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:30", got.Format(TimestampLayout))
	})

	t.Run("index and packed start time", func(t *testing.T) {
		got, ok := r.Resolve(pointFeature(map[string]any{"id": "20150312_7", "start_time": 745.0}))
		require.True(t, ok)
		assert.Equal(t, "2015-03-12 09:45:00", got.Format(TimestampLayout))
	})

	t.Run("null date is absent", func(t *testing.T) {
		_, ok := r.Resolve(pointFeature(map[string]any{"formatted_date": nil}))
		assert.False(t, ok)
	})

	t.Run("no date attributes", func(t *testing.T) {
		_, ok := r.Resolve(pointFeature(map[string]any{"name": "x"}))
		assert.False(t, ok)
	})

	t.Run("malformed utc is absent, not a panic", func(t *testing.T) {
		_, ok := r.Resolve(pointFeature(map[string]any{"utc_date": "12/03/15"}))
		assert.False(t, ok)
	})
}

func TestDateResolver_ResolveCollection(t *testing.T) {
	r := testResolver()
	in := FeatureCollection{Name: "points", Features: []Feature{
		pointFeature(map[string]any{"utc_date": "2015-03-12T07:45:30Z"}),
		pointFeature(map[string]any{"utc_date": "garbage", "formatted_date": nil}),
	}}

	out := r.ResolveCollection(in)

	assert.Equal(t, "2015-03-12 09:45:30", out.Features[0].Properties["formatted_date"])
	_, present := out.Features[1].Properties["formatted_date"]
	assert.False(t, present, "unresolvable date must be removed, not left malformed")

	// Input untouched.
	_, present = in.Features[0].Properties["formatted_date"]
	assert.False(t, present)
}

func TestDateResolver_NegativeOffsetZoneName(t *testing.T) {
	r := NewDateResolver(DefaultDateFields(), -3*time.Hour, discardLogger())
	name, offset := time.Date(2020, 1, 1, 0, 0, 0, 0, r.Zone()).Zone()
	assert.Equal(t, "UTC-3", name)
	assert.Equal(t, -10800, offset)
}

func TestDateResolver_DateAttributeOnly(t *testing.T) {
	r := testResolver().DateAttributeOnly()

	got, ok := r.Resolve(pointFeature(map[string]any{"formatted_date": "2015-03-12 09:45:30"}))
	require.True(t, ok)
	assert.Equal(t, "2015-03-12 09:45:30", got.Format(TimestampLayout))

	_, ok = r.Resolve(pointFeature(map[string]any{"utc_date": "2015-03-12T07:45:30Z"}))
	assert.False(t, ok, "raw utc string is ignored")

	_, ok = r.Resolve(pointFeature(map[string]any{"id": "20150312_7", "start_time": 745.0}))
	assert.False(t, ok, "index and start time are ignored")
}
