package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
)

// worker computes the rainfall result of single features for one window,
// retrying transient archive failures.
type worker struct {
	driver *Driver
	spec   domain.WindowSpec
	logger *slog.Logger
}

func (w *worker) window() string {
	return w.spec.Source.Name + ":" + w.spec.Label()
}

// process returns the feature's result. Archive failures that survive the
// retry budget become the unavailable result. Cancellation of ctx and a
// missing raster asset are returned as errors and fail the run.
func (w *worker) process(ctx context.Context, f domain.Feature) (domain.RainfallResult, error) {
	opts := w.driver.opts
	backoff := opts.InitialBackoff

	for attempt := 0; ; attempt++ {
		// One token per feature attempt, shared by every worker of the run.
		if err := w.driver.limiter.Wait(ctx); err != nil {
			return domain.RainfallResult{}, err
		}

		result, err := w.attempt(ctx, f)
		if err == nil {
			w.driver.metrics.RainfallOutcomes.WithLabelValues(w.window(), string(result.Kind)).Inc()
			return result, nil
		}
		if ctx.Err() != nil {
			return domain.RainfallResult{}, ctx.Err()
		}
		if errors.Is(err, domain.ErrAssetNotFound) {
			return domain.RainfallResult{}, fmt.Errorf("raster asset %s: %w", w.spec.Source.Asset, err)
		}

		if !retryable(err) || attempt >= opts.MaxRetries {
			w.giveUp(f, err, attempt+1)
			return domain.Unavailable(), nil
		}

		w.driver.metrics.RainfallRetries.WithLabelValues(w.window()).Inc()
		w.logger.Debug("rainfall aggregation failed, retrying",
			"key", f.Key, "attempt", attempt+1, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return domain.RainfallResult{}, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, opts.MaxBackoff)
	}
}

func (w *worker) attempt(ctx context.Context, f domain.Feature) (domain.RainfallResult, error) {
	if w.driver.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.driver.opts.RequestTimeout)
		defer cancel()
	}
	return w.driver.stage.Aggregate(ctx, f, w.spec)
}

func (w *worker) giveUp(f domain.Feature, err error, attempts int) {
	w.driver.metrics.RainfallOutcomes.WithLabelValues(w.window(), string(domain.ResultUnavailable)).Inc()
	start, end, _ := w.driver.stage.ResolvedAt(f, w.spec)
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrNoData) {
		level = slog.LevelInfo
	}
	w.logger.Log(context.Background(), level, "rainfall unavailable",
		"key", f.Key,
		"attempts", attempts,
		"window_start", start,
		"window_end", end,
		"error", err,
	)
}

// retryable reports whether err may succeed on another attempt. Deadline
// errors here come from the per-attempt timeout since the caller has already
// ruled out cancellation of the run.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNoData),
		errors.Is(err, domain.ErrTooManyPixels):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return domain.IsTransient(err)
	}
}
