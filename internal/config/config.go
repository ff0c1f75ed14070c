package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// Backend names accepted by FEATURE_STORE and RASTER_ARCHIVE.
const (
	BackendGeoJSON = "geojson"
	BackendGrid    = "grid"
	BackendEngine  = "engine"
)

// Export formats accepted by EXPORT_FORMAT.
const (
	FormatCSV     = "csv"
	FormatGeoJSON = "geojson"
	FormatKafka   = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	TargetAsset      string
	CounterpartAsset string

	FeatureStore  string
	FeatureDir    string
	RasterArchive string
	RasterDir     string

	// Hosted analysis engine.
	EngineURL       string
	EngineToken     string
	EngineTimeout   time.Duration
	EngineCacheSize int

	DateFields     domain.DateFields
	TimezoneOffset time.Duration
	Join           domain.JoinOptions
	Windows        []domain.WindowSpec
	MaxPixels      int64

	Concurrency    int
	RequestTimeout time.Duration
	MaxRetries     int
	RateLimit      float64

	ExportFormats  []string
	ExportDir      string
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	engineTimeout, err := parsePositiveDuration("ENGINE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parsePositiveDuration("REQUEST_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	offset, err := time.ParseDuration(sharedcfg.EnvOrDefault("TIMEZONE_OFFSET", "2h"))
	if err != nil {
		return nil, errors.New("invalid TIMEZONE_OFFSET")
	}

	concurrency, err := parsePositiveInt("CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseNonNegativeInt("MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("ENGINE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("RATE_LIMIT", "10"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid RATE_LIMIT")
	}
	maxPixels, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MAX_PIXELS", "5e12"), 64)
	if err != nil || maxPixels < 1 {
		return nil, errors.New("invalid MAX_PIXELS")
	}

	sources, err := parseSources()
	if err != nil {
		return nil, err
	}
	windows, err := domain.ParseWindowSpecs(sharedcfg.EnvOrDefault("WINDOWS", "gsmap:7,gsmap:14"), sources, domain.SourceGSMaP)
	if err != nil {
		return nil, fmt.Errorf("invalid WINDOWS: %w", err)
	}

	dates := domain.DateFields{
		Date:      sharedcfg.EnvOrDefault("DATE_FIELD", "formatted_date"),
		UTC:       sharedcfg.EnvOrDefault("UTC_DATE_FIELD", "utc_date"),
		Index:     sharedcfg.EnvOrDefault("INDEX_FIELD", "id"),
		StartTime: sharedcfg.EnvOrDefault("START_TIME_FIELD", "start_time"),
	}
	join, err := parseJoin(dates.Date)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		TargetAsset:      sharedcfg.EnvOrDefault("TARGET_ASSET", "projects/stgee-dataset/assets/polygons_gridcoll_14-11-2024"),
		CounterpartAsset: sharedcfg.EnvOrDefault("COUNTERPART_ASSET", "projects/stgee-dataset/assets/pointsDate"),

		FeatureStore:  strings.ToLower(sharedcfg.EnvOrDefault("FEATURE_STORE", BackendGeoJSON)),
		FeatureDir:    sharedcfg.EnvOrDefault("FEATURE_DIR", "data/mock/features"),
		RasterArchive: strings.ToLower(sharedcfg.EnvOrDefault("RASTER_ARCHIVE", BackendGrid)),
		RasterDir:     sharedcfg.EnvOrDefault("RASTER_DIR", "data/mock/rasters"),

		EngineURL:       os.Getenv("ENGINE_URL"),
		EngineToken:     os.Getenv("ENGINE_TOKEN"),
		EngineTimeout:   engineTimeout,
		EngineCacheSize: cacheSize,

		DateFields:     dates,
		TimezoneOffset: offset,
		Join:           join,
		Windows:        windows,
		MaxPixels:      int64(maxPixels),

		Concurrency:    concurrency,
		RequestTimeout: requestTimeout,
		MaxRetries:     maxRetries,
		RateLimit:      rateLimit,

		ExportFormats:  parseList(sharedcfg.EnvOrDefault("EXPORT_FORMAT", FormatCSV)),
		ExportDir:      sharedcfg.EnvOrDefault("EXPORT_DIR", "out"),
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "landslide-rainfall"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TargetAsset == "" {
		return errors.New("TARGET_ASSET is required")
	}
	if c.CounterpartAsset == "" {
		return errors.New("COUNTERPART_ASSET is required")
	}
	switch c.FeatureStore {
	case BackendGeoJSON, BackendEngine:
	default:
		return fmt.Errorf("unknown FEATURE_STORE %q", c.FeatureStore)
	}
	switch c.RasterArchive {
	case BackendGrid, BackendEngine:
	default:
		return fmt.Errorf("unknown RASTER_ARCHIVE %q", c.RasterArchive)
	}
	if (c.FeatureStore == BackendEngine || c.RasterArchive == BackendEngine) && c.EngineURL == "" {
		return errors.New("ENGINE_URL is required for the engine backend")
	}
	if len(c.ExportFormats) == 0 {
		return errors.New("EXPORT_FORMAT is required")
	}
	for _, f := range c.ExportFormats {
		switch f {
		case FormatCSV, FormatGeoJSON:
		case FormatKafka:
			if len(c.KafkaBrokers) == 0 {
				return errors.New("KAFKA_BROKERS is required for kafka export")
			}
			if c.KafkaSinkTopic == "" {
				return errors.New("KAFKA_SINK_TOPIC is required for kafka export")
			}
		default:
			return fmt.Errorf("unknown EXPORT_FORMAT %q", f)
		}
	}
	return nil
}

// HasExport reports whether format is among the configured export formats.
func (c *Config) HasExport(format string) bool {
	for _, f := range c.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func parseSources() (map[string]domain.RasterSource, error) {
	gsmap := domain.SourceGSMaP
	chirps := domain.SourceCHIRPS
	var err error
	if gsmap.Scale, err = parsePositiveFloat("GSMAP_SCALE", gsmap.Scale); err != nil {
		return nil, err
	}
	if chirps.Scale, err = parsePositiveFloat("CHIRPS_SCALE", chirps.Scale); err != nil {
		return nil, err
	}
	return map[string]domain.RasterSource{gsmap.Name: gsmap, chirps.Name: chirps}, nil
}

// parseJoin carries the counterpart date attribute onto targets under the
// same name so the rainfall stage can resolve it, and the counterpart
// identifier onto event_id.
func parseJoin(dateField string) (domain.JoinOptions, error) {
	opts := domain.DefaultJoinOptions()
	opts.IDField = strings.TrimSpace(sharedcfg.EnvOrDefault("ID_FIELD", opts.IDField))
	if opts.IDField == "" {
		return opts, errors.New("invalid ID_FIELD")
	}
	opts.FirstMatch = map[string]string{dateField: dateField, opts.IDField: "event_id"}
	mode, err := domain.ParseJoinMode(sharedcfg.EnvOrDefault("JOIN_MODE", string(opts.Mode)))
	if err != nil {
		return opts, fmt.Errorf("invalid JOIN_MODE: %w", err)
	}
	opts.Mode = mode
	if v := os.Getenv("JOIN_AGGREGATE"); v != "" {
		aggregate, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return opts, errors.New("invalid JOIN_AGGREGATE")
		}
		opts.Aggregate = aggregate
	}
	return opts, nil
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseNonNegativeInt(key, def)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
