// Package pipeline orchestrates one reconciliation day end to end: source
// collection, the reconciliation engine, persistence and bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/fetcher"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/model"
	"github.com/sells-group/covid-cli/internal/monitoring"
	"github.com/sells-group/covid-cli/internal/reconcile"
	"github.com/sells-group/covid-cli/internal/resilience"
	"github.com/sells-group/covid-cli/internal/source"
	"github.com/sells-group/covid-cli/internal/store"
)

// DefaultMatch returns the record predicates for the French hierarchy:
// departements report "01" or "DEP-01", regions "REG-84" and the nation
// "FRA".
func DefaultMatch() map[catalog.Level]reconcile.MatchFunc {
	return map[catalog.Level]reconcile.MatchFunc{
		catalog.Leaf:         reconcile.MatchAny(reconcile.MatchCode, reconcile.MatchPrefixed("DEP-")),
		catalog.Intermediate: reconcile.MatchPrefixed("REG-"),
		catalog.Root:         reconcile.MatchCode,
	}
}

// Job holds everything needed to reconcile days of one dataset.
type Job struct {
	Dataset  string
	Registry *indicator.Registry
	// Catalog is the polygon catalog; point variants derive from it.
	Catalog *catalog.Catalog
	Sources []source.Source
	Fetcher fetcher.Fetcher
	Store   store.SnapshotStore

	// Optional.
	Runs    store.RunLog
	Metrics *monitoring.Metrics
	Match   map[catalog.Level]reconcile.MatchFunc

	SourceConcurrency int
	StoreRetry        resilience.RetryConfig
}

// Result is the outcome of one variant of one day.
type Result struct {
	Key      store.Key
	RunID    string
	Snapshot *reconcile.DailySnapshot
	Totals   map[string]float64
	Records  int
	Failed   []string
}

func (j *Job) validate() error {
	switch {
	case j.Dataset == "":
		return eris.New("pipeline: job has no dataset")
	case j.Registry == nil:
		return eris.New("pipeline: job has no indicator registry")
	case j.Catalog == nil:
		return eris.New("pipeline: job has no catalog")
	case j.Fetcher == nil:
		return eris.New("pipeline: job has no fetcher")
	case j.Store == nil:
		return eris.New("pipeline: job has no snapshot store")
	}
	return nil
}

// Run collects and reconciles day for a single geometry variant.
func (j *Job) Run(ctx context.Context, day time.Time, variant catalog.Geometry) (*Result, error) {
	results, err := j.RunVariants(ctx, day, []catalog.Geometry{variant}, nil)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// RunVariants collects day once and reconciles it for every variant
// concurrently. counters carries running totals per variant across calls;
// a nil map gives every variant fresh counters.
func (j *Job) RunVariants(ctx context.Context, day time.Time, variants []catalog.Geometry, counters map[catalog.Geometry]*indicator.Counters) ([]*Result, error) {
	if err := j.validate(); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, eris.New("pipeline: no geometry variant selected")
	}

	collected, err := source.Collect(ctx, j.Fetcher, day, j.Sources, j.SourceConcurrency)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: collect")
	}
	j.Metrics.ObserveSourceFailures(collected.Failed)

	results := make([]*Result, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		c := counters[variant]
		if c == nil {
			c = indicator.NewCounters(j.Registry)
		}
		g.Go(func() error {
			res, err := j.reconcile(gctx, day, variant, collected, c)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Backfill reconciles every day from start to end inclusive, in order,
// since each day builds on the snapshot of the previous one. Counters run
// across the whole range.
func (j *Job) Backfill(ctx context.Context, start, end time.Time, variants []catalog.Geometry) ([]*Result, error) {
	if end.Before(start) {
		return nil, eris.Errorf("pipeline: backfill end %s is before start %s",
			end.Format(reconcile.DayLayout), start.Format(reconcile.DayLayout))
	}

	counters := make(map[catalog.Geometry]*indicator.Counters, len(variants))
	for _, v := range variants {
		counters[v] = indicator.NewCounters(j.Registry)
	}

	var out []*Result
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		res, err := j.RunVariants(ctx, day, variants, counters)
		if err != nil {
			return out, eris.Wrapf(err, "pipeline: backfill stopped at %s", day.Format(reconcile.DayLayout))
		}
		out = append(out, res...)
	}
	return out, nil
}

func (j *Job) reconcile(ctx context.Context, day time.Time, variant catalog.Geometry, collected *source.Result, counters *indicator.Counters) (*Result, error) {
	key := store.Key{Dataset: j.Dataset, Geometry: variant, Date: day}
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("dataset", j.Dataset),
		zap.String("geometry", string(variant)),
		zap.String("day", key.Day()),
	)
	start := time.Now()

	res := &Result{Key: key, Records: len(collected.Records), Failed: collected.Failed}
	if j.Runs != nil {
		run, err := j.Runs.StartRun(ctx, j.Dataset, string(variant), key.Day())
		if err != nil {
			log.Warn("pipeline: failed to record run start", zap.Error(err))
		} else {
			res.RunID = run.ID
		}
	}

	snap, err := j.reconcileDay(ctx, key, collected.Records, counters)
	if err != nil {
		j.finish(ctx, log, res, err, time.Since(start))
		return nil, err
	}
	res.Snapshot = snap
	res.Totals = counters.Totals()
	j.finish(ctx, log, res, nil, time.Since(start))

	log.Info("pipeline: day reconciled",
		append([]zap.Field{
			zap.Int("units", snap.Len()),
			zap.Int("records", res.Records),
			zap.Strings("failed_sources", res.Failed),
			zap.Duration("duration", time.Since(start)),
		}, counters.Fields()...)...,
	)
	return res, nil
}

func (j *Job) reconcileDay(ctx context.Context, key store.Key, records []reconcile.RawRecord, counters *indicator.Counters) (*reconcile.DailySnapshot, error) {
	cat, err := j.Catalog.ForGeometry(key.Geometry)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: catalog")
	}

	yesterday, err := j.loadPrevious(ctx, key)
	if err != nil {
		return nil, err
	}

	match := j.Match
	if match == nil {
		match = DefaultMatch()
	}
	engine := &reconcile.Engine{Registry: j.Registry, Catalog: cat, Match: match}
	snap, err := engine.Run(key.Date, records, yesterday, counters)
	if err != nil {
		return nil, err
	}

	retry := j.storeRetry("save " + key.Day())
	if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return j.Store.Save(ctx, key, snap)
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: save snapshot")
	}
	return snap, nil
}

// loadPrevious returns the snapshot of the day before key, or nil on the
// first day.
func (j *Job) loadPrevious(ctx context.Context, key store.Key) (*reconcile.DailySnapshot, error) {
	prev := key.Prev()
	snap, err := resilience.DoVal(ctx, j.storeRetry("load "+prev.Day()), func(ctx context.Context) (*reconcile.DailySnapshot, error) {
		return j.Store.Load(ctx, prev)
	})
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Info("pipeline: no previous snapshot, starting fresh",
			zap.String("dataset", key.Dataset),
			zap.String("day", prev.Day()),
		)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load previous snapshot")
	}
	return snap, nil
}

func (j *Job) storeRetry(operation string) resilience.RetryConfig {
	cfg := j.StoreRetry
	if cfg.MaxAttempts == 0 {
		cfg = resilience.DefaultRetryConfig()
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("store", operation)
	}
	return cfg
}

func (j *Job) finish(ctx context.Context, log *zap.Logger, res *Result, runErr error, d time.Duration) {
	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
		log.Error("pipeline: run failed", zap.Error(runErr))
	}

	variant := string(res.Key.Geometry)
	j.Metrics.ObserveRun(variant, status, res.Snapshot.Len(), d)
	if runErr == nil {
		j.Metrics.ObserveTotals(variant, res.Totals)
	}

	if j.Runs == nil || res.RunID == "" {
		return
	}
	var err error
	if runErr != nil {
		err = j.Runs.FailRun(ctx, res.RunID, runErr)
	} else {
		err = j.Runs.CompleteRun(ctx, res.RunID, &model.RunResult{
			Units:         res.Snapshot.Len(),
			Records:       res.Records,
			FailedSources: res.Failed,
			Totals:        res.Totals,
		})
	}
	if err != nil {
		log.Warn("pipeline: failed to record run outcome", zap.Error(err))
	}
}
