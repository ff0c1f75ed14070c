// Command validate checks exported rainfall outputs for internal consistency:
// dense system keys, presence flags that agree with match counts, a rainfall
// column for every configured window statistic, and status values that agree
// with the statistics written next to them. When both CSV and GeoJSON exports
// exist for a window they are cross-checked row by row.
//
// Usage:
//
//	go run ./cmd/validate -dir out -windows gsmap:7,gsmap:14
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"

	csvadapter "github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/csv"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// row is one exported feature with every attribute rendered as its CSV cell.
type row struct {
	key    string
	fields map[string]string
}

// export is one window's output in one format.
type export struct {
	format string
	path   string
	rows   []row
}

func main() {
	dir := flag.String("dir", "out", "directory containing exported files")
	windows := flag.String("windows", "gsmap:7,gsmap:14", "window specs the exports were produced with")
	presence := flag.String("presence-field", "presence_flag", "presence flag attribute")
	count := flag.String("count-field", "match_count", "match count attribute")
	ids := flag.String("ids-field", "match_ids", "matched identifiers attribute")
	flag.Parse()

	sources := map[string]domain.RasterSource{
		domain.SourceGSMaP.Name:  domain.SourceGSMaP,
		domain.SourceCHIRPS.Name: domain.SourceCHIRPS,
	}
	specs, err := domain.ParseWindowSpecs(*windows, sources, domain.SourceGSMaP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -windows: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	fields := joinFields{presence: *presence, count: *count, ids: *ids}
	if code := run(*dir, specs, fields); code != 0 {
		os.Exit(code)
	}
}

type joinFields struct {
	presence string
	count    string
	ids      string
}

func run(dir string, specs []domain.WindowSpec, jf joinFields) int {
	fmt.Println("=== Landslide Rainfall Export Validation ===")
	fmt.Println()

	var phases []*phase
	total := 0
	for _, spec := range specs {
		name := domain.ExportName(spec)
		exports, err := loadExports(dir, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load %s: %v\n", name, err)
			return 1
		}
		if len(exports) == 0 {
			fmt.Fprintf(os.Stderr, "FATAL: no csv or geojson export named %s in %s\n", name, dir)
			return 1
		}
		for _, e := range exports {
			fmt.Printf("Loaded %s (%d rows)\n", e.path, len(e.rows))
			total += len(e.rows)
			label := name + "." + e.format
			phases = append(phases,
				validateKeys(label, e.rows),
				validatePresence(label, e.rows, jf),
				validateRainfall(label, e.rows, spec),
			)
		}
		if len(exports) == 2 {
			phases = append(phases, validateCrossFormat(name, exports[0], exports[1]))
		}
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-60s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows checked: %d across %d windows\n", total, len(specs))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadExports(dir, name string) ([]export, error) {
	var out []export

	csvPath := filepath.Join(dir, name+".csv")
	rows, err := loadCSV(csvPath)
	switch {
	case err == nil:
		out = append(out, export{format: "csv", path: csvPath, rows: rows})
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	geoPath := filepath.Join(dir, name+".geojson")
	rows, err = loadGeoJSON(geoPath, name)
	switch {
	case err == nil:
		out = append(out, export{format: "geojson", path: geoPath, rows: rows})
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return out, nil
}

func loadCSV(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, row{key: rec[csvadapter.KeyColumn], fields: rec})
	}
	return rows, nil
}

func loadGeoJSON(path, name string) ([]row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := geojson.Decode(data, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	rows := make([]row, 0, c.Len())
	for _, f := range c.Features {
		fields := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			fields[k] = cell(v)
		}
		rows = append(rows, row{key: f.Key, fields: fields})
	}
	return rows, nil
}

// cell renders a decoded GeoJSON property the way the CSV exporter writes it.
func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// ── Phase: Keys ──
// System keys are "0".."n-1" in row order.

func validateKeys(label string, rows []row) *phase {
	p := &phase{name: label + ": dense system keys"}
	for i, r := range rows {
		if r.key != strconv.Itoa(i) {
			p.errorf("row %d: key %q, want %q", i, r.key, strconv.Itoa(i))
		}
	}
	return p
}

// ── Phase: Presence ──
// The presence flag is 1 exactly when at least one point matched.

func validatePresence(label string, rows []row, jf joinFields) *phase {
	p := &phase{name: label + ": presence and match counts"}
	for _, r := range rows {
		present, ok := r.fields[jf.presence]
		if !ok {
			p.errorf("key %s: missing %s", r.key, jf.presence)
			continue
		}
		if present != "0" && present != "1" {
			p.errorf("key %s: %s = %q, want 0 or 1", r.key, jf.presence, present)
			continue
		}

		raw, ok := r.fields[jf.count]
		if !ok {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil || count < 0 {
			p.errorf("key %s: %s = %q is not a non-negative integer", r.key, jf.count, raw)
			continue
		}
		if (count > 0) != (present == "1") {
			p.errorf("key %s: %s = %s but %s = %d", r.key, jf.presence, present, jf.count, count)
		}

		if rawIDs, ok := r.fields[jf.ids]; ok && rawIDs != "" {
			var list []any
			if err := json.Unmarshal([]byte(rawIDs), &list); err != nil {
				p.errorf("key %s: %s is not a list: %v", r.key, jf.ids, err)
				continue
			}
			if len(list) > count {
				p.errorf("key %s: %d ids for %d matches", r.key, len(list), count)
			}
		}
	}
	return p
}

// ── Phase: Rainfall ──
// Every statistic column exists; its contents agree with rain_status.

func validateRainfall(label string, rows []row, spec domain.WindowSpec) *phase {
	p := &phase{name: label + ": rainfall attributes"}
	names := spec.AttributeNames()
	for _, r := range rows {
		status := r.fields[domain.StatusField]
		for _, name := range names {
			v, ok := r.fields[name]
			if !ok {
				p.errorf("key %s: missing %s", r.key, name)
				continue
			}
			checkStatistic(p, r.key, name, v, status)
		}
	}
	return p
}

func checkStatistic(p *phase, key, name, v, status string) {
	switch domain.ResultKind(status) {
	case domain.ResultUnavailable:
		if v != "" {
			p.errorf("key %s: %s = %q on an unavailable row", key, name, v)
		}
	case domain.ResultFallback:
		if v != "0" {
			p.errorf("key %s: %s = %q on a fallback row, want 0", key, name, v)
		}
	case domain.ResultComputed:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errorf("key %s: %s = %q is not numeric", key, name, v)
			return
		}
		// Precipitation and its spread are never negative.
		if n < 0 {
			p.errorf("key %s: %s = %v is negative", key, name, n)
		}
	default:
		p.errorf("key %s: %s = %q is not a known status", key, domain.StatusField, status)
	}
}

// ── Phase: Cross-format ──
// CSV and GeoJSON exports of the same window describe the same rows.

func validateCrossFormat(name string, a, b export) *phase {
	p := &phase{name: name + ": csv and geojson agree"}
	if len(a.rows) != len(b.rows) {
		p.errorf("%s has %d rows, %s has %d", a.format, len(a.rows), b.format, len(b.rows))
		return p
	}
	for i := range a.rows {
		ra, rb := a.rows[i], b.rows[i]
		if ra.key != rb.key {
			p.errorf("row %d: key %q vs %q", i, ra.key, rb.key)
			continue
		}
		for field, va := range ra.fields {
			if field == csvadapter.KeyColumn || field == csvadapter.GeometryColumn {
				continue
			}
			if vb := rb.fields[field]; va != vb {
				p.errorf("key %s: %s = %q in %s, %q in %s", ra.key, field, va, a.format, vb, b.format)
			}
		}
	}
	return p
}
