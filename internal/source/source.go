// Package source downloads daily indicator reports and parses them into raw
// records.
package source

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/covid-cli/internal/fetcher"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// Source produces the raw records of one report day.
type Source interface {
	Name() string
	Fetch(ctx context.Context, f fetcher.Fetcher, day time.Time) ([]reconcile.RawRecord, error)
}

// Config selects the sources of a run. An empty CSV list selects
// DefaultCSVSources.
type Config struct {
	ARS ARSConfig   `yaml:"ars" mapstructure:"ars"`
	CSV []CSVSource `yaml:"csv" mapstructure:"csv"`
}

// Sources returns every enabled source, regional reports first.
func (c Config) Sources() []Source {
	var out []Source
	if !c.ARS.Disabled {
		out = append(out, c.ARS.Sources()...)
	}
	csvs := c.CSV
	if len(csvs) == 0 {
		csvs = DefaultCSVSources()
	}
	for i := range csvs {
		if csvs[i].Disabled {
			continue
		}
		s := csvs[i]
		out = append(out, &s)
	}
	return out
}

// Result is the outcome of Collect.
type Result struct {
	Records []reconcile.RawRecord
	// Failed lists the sources that could not be fetched or parsed.
	Failed []string
}

// Collect fetches every source concurrently, at most limit at a time.
// A failing source is logged and skipped; records keep source order.
// Only context cancellation fails the whole collection.
func Collect(ctx context.Context, f fetcher.Fetcher, day time.Time, sources []Source, limit int) (*Result, error) {
	log := zap.L().With(zap.String("component", "source.collect"), zap.String("day", day.Format(reconcile.DayLayout)))

	batches := make([][]reconcile.RawRecord, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range sources {
		g.Go(func() error {
			recs, err := src.Fetch(gctx, f, day)
			if err != nil {
				errs[i] = err
				return nil
			}
			batches[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "source: collect")
	}

	res := &Result{}
	for i, src := range sources {
		if errs[i] != nil {
			res.Failed = append(res.Failed, src.Name())
			if errors.Is(errs[i], fetcher.ErrNotFound) {
				log.Info("source has no report for this day", zap.String("source", src.Name()))
			} else {
				log.Warn("source failed, skipping", zap.String("source", src.Name()), zap.Error(errs[i]))
			}
			continue
		}
		res.Records = append(res.Records, batches[i]...)
	}

	log.Info("collected raw records",
		zap.Int("sources", len(sources)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("records", len(res.Records)),
	)
	return res, nil
}

// parseNumber converts a source value into a float. Empty and non-numeric
// values are reported as absent.
func parseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
