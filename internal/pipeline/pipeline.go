package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// runNamespace scopes run identifiers derived from run inputs.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/couchcryptid/landslide-rainfall-etl/runs"))

// Options tunes the join and the per-feature rainfall worker.
type Options struct {
	Concurrency    int
	RequestTimeout time.Duration
	MaxRetries     int
	RateLimit      float64 // archive requests per second; <= 0 disables limiting
	Join           domain.JoinOptions

	// Backoff between retries starts at InitialBackoff and doubles up to
	// MaxBackoff. Zero values use 200ms and 5s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Sink is an exporter labelled with its output format.
type Sink struct {
	Format   string
	Exporter domain.Exporter
}

// RunSummary describes a completed run.
type RunSummary struct {
	RunID           string                    `json:"run_id"`
	StartedAt       time.Time                 `json:"started_at"`
	DurationSeconds float64                   `json:"duration_seconds"`
	Targets         int                       `json:"targets"`
	Counterparts    int                       `json:"counterparts"`
	Present         int                       `json:"present"`
	Outcomes        map[string]map[string]int `json:"outcomes"` // export name -> rain_status -> features
}

// Driver orchestrates load, date resolution, join, rainfall aggregation and
// export for one batch run.
type Driver struct {
	store    domain.FeatureStore
	stage    *domain.RainfallStage
	resolver *domain.DateResolver
	sinks    []Sink
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
	last     atomic.Pointer[RunSummary]
}

// New creates a Driver. store may be nil when only Run is used.
func New(store domain.FeatureStore, stage *domain.RainfallStage, resolver *domain.DateResolver, sinks []Sink, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Driver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	limit := rate.Inf
	burst := 0
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(opts.RateLimit))
	}

	return &Driver{
		store:    store,
		stage:    stage,
		resolver: resolver,
		sinks:    sinks,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (d *Driver) CheckReadiness(_ context.Context) error {
	if d.last.Load() == nil {
		return errors.New("no pipeline run has completed yet")
	}
	return nil
}

// LastRun returns the summary of the most recent completed run.
func (d *Driver) LastRun() (RunSummary, bool) {
	s := d.last.Load()
	if s == nil {
		return RunSummary{}, false
	}
	return *s, true
}

// Execute loads both assets from the store, runs the pipeline and hands every
// enriched collection to each sink. A missing asset fails the run; a failing
// sink is logged and reported after the remaining sinks have been tried.
func (d *Driver) Execute(ctx context.Context, targetAsset, counterpartAsset string, specs []domain.WindowSpec) error {
	targets, err := d.load(ctx, targetAsset, "target")
	if err != nil {
		return err
	}
	counterparts, err := d.load(ctx, counterpartAsset, "counterpart")
	if err != nil {
		return err
	}

	results, err := d.Run(ctx, targets, counterparts, specs)
	if err != nil {
		return err
	}
	return d.export(ctx, results)
}

func (d *Driver) load(ctx context.Context, asset, role string) (domain.FeatureCollection, error) {
	c, err := d.store.LoadFeatures(ctx, asset)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("load %s collection %q: %w", role, asset, err)
	}
	d.metrics.FeaturesLoaded.WithLabelValues(role).Add(float64(c.Len()))
	d.logger.Info("features loaded", "role", role, "asset", asset, "count", c.Len())
	return c, nil
}

func (d *Driver) export(ctx context.Context, results []domain.EnrichedCollection) error {
	var errs []error
	for _, e := range results {
		for _, s := range d.sinks {
			if err := s.Exporter.Export(ctx, e); err != nil {
				d.metrics.ExportErrors.WithLabelValues(s.Format).Inc()
				d.logger.Error("export failed", "format", s.Format, "name", e.Name, "error", err)
				errs = append(errs, fmt.Errorf("export %s as %s: %w", e.Name, s.Format, err))
				continue
			}
			d.metrics.FeaturesExported.WithLabelValues(s.Format).Add(float64(e.Collection.Len()))
		}
	}
	return errors.Join(errs...)
}

// Run joins targets with counterparts and computes one enriched collection per
// window spec. Either input being empty returns nil without touching any
// collaborator. Per-feature archive failures become unavailable results; only
// cancellation of ctx fails the run.
func (d *Driver) Run(ctx context.Context, targets, counterparts domain.FeatureCollection, specs []domain.WindowSpec) ([]domain.EnrichedCollection, error) {
	if targets.Empty() || counterparts.Empty() {
		d.logger.Warn("empty input collection, nothing to do",
			"targets", targets.Len(), "counterparts", counterparts.Len())
		return nil, nil
	}

	start := time.Now()
	startedAt := domain.Now()
	runID := deriveRunID(targets, counterparts, specs)
	d.metrics.PipelineRunning.Set(1)
	defer d.metrics.PipelineRunning.Set(0)
	logger := d.logger.With("run_id", runID)
	logger.Info("pipeline run started",
		"targets", targets.Len(), "counterparts", counterparts.Len(), "windows", len(specs))

	counterparts = d.resolver.ResolveCollection(counterparts).Reindex()
	targets = targets.Reindex()

	joined := domain.Join(targets, counterparts, d.opts.Join, logger)
	summary := &RunSummary{
		RunID:        runID,
		StartedAt:    startedAt,
		Targets:      targets.Len(),
		Counterparts: counterparts.Len(),
		Present:      d.recordPresence(joined),
		Outcomes:     make(map[string]map[string]int, len(specs)),
	}

	results := make([]domain.EnrichedCollection, 0, len(specs))
	for _, spec := range specs {
		enriched, err := d.aggregate(ctx, joined, spec, logger)
		if err != nil {
			return nil, err
		}
		name := domain.ExportName(spec)
		summary.Outcomes[name] = countStatuses(enriched)
		results = append(results, domain.EnrichedCollection{
			Name:        name,
			Spec:        spec,
			Collection:  enriched,
			RunID:       runID,
			ProcessedAt: domain.Now(),
		})
	}

	elapsed := time.Since(start)
	summary.DurationSeconds = elapsed.Seconds()
	d.metrics.RunDuration.Observe(elapsed.Seconds())
	d.last.Store(summary)
	logger.Info("pipeline run complete", "duration", elapsed, "present", summary.Present)
	return results, nil
}

// recordPresence counts present and absent targets and returns the present count.
func (d *Driver) recordPresence(c domain.FeatureCollection) int {
	present := 0
	for _, f := range c.Features {
		flag, _ := f.Number(d.opts.Join.PresenceField)
		if flag > 0 {
			present++
			d.metrics.JoinPresence.WithLabelValues("present").Inc()
		} else {
			d.metrics.JoinPresence.WithLabelValues("absent").Inc()
		}
	}
	return present
}

func countStatuses(c domain.FeatureCollection) map[string]int {
	counts := make(map[string]int, 3)
	for _, f := range c.Features {
		if s, ok := f.Properties[domain.StatusField].(string); ok {
			counts[s]++
		}
	}
	return counts
}

// aggregate enriches every feature of c for one window. Results land at the
// feature's own index so output order matches input order.
func (d *Driver) aggregate(ctx context.Context, c domain.FeatureCollection, spec domain.WindowSpec, logger *slog.Logger) (domain.FeatureCollection, error) {
	out := domain.FeatureCollection{Name: c.Name, Features: make([]domain.Feature, c.Len())}
	w := &worker{driver: d, spec: spec, logger: logger.With("window", spec.Label(), "source", spec.Source.Name)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i := range c.Features {
		g.Go(func() error {
			f := c.Features[i]
			result, err := w.process(gctx, f)
			if err != nil {
				return err
			}
			out.Features[i] = domain.Apply(f, spec, result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("window %s: %w", spec.Label(), err)
	}
	return out, nil
}

// deriveRunID names a run by its inputs, so repeated runs over unchanged
// inputs carry the same identifier and only processed_at differs.
func deriveRunID(targets, counterparts domain.FeatureCollection, specs []domain.WindowSpec) string {
	h := sha256.New()
	for _, c := range []domain.FeatureCollection{targets, counterparts} {
		fmt.Fprintf(h, "collection %q %d\n", c.Name, c.Len())
		for _, f := range c.Features {
			fmt.Fprintf(h, "%q %#v %#v\n", f.Key, f.Geometry, f.Properties)
		}
	}
	for _, spec := range specs {
		fmt.Fprintf(h, "window %#v\n", spec)
	}
	return uuid.NewSHA1(runNamespace, h.Sum(nil)).String()
}
