package reconcile

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
)

// Engine runs one day through matching, aggregation and reconciliation.
type Engine struct {
	Registry *indicator.Registry
	Catalog  *catalog.Catalog
	// Match holds the record predicate of every level that sources report
	// directly. Levels without one are only derived by aggregation.
	Match map[catalog.Level]MatchFunc
	// CountLevel is the level tallied into counters. Zero selects the finest
	// matched level. Only units of that level are counted, so a coarser unit
	// reported directly with no reporting children never reaches the totals.
	CountLevel catalog.Level
}

// countLevel returns the level whose units feed the counters.
func (e *Engine) countLevel() catalog.Level {
	if e.CountLevel != 0 {
		return e.CountLevel
	}
	var finest catalog.Level
	for level := range e.Match {
		if finest == 0 || level < finest {
			finest = level
		}
	}
	return finest
}

// Run reconciles the records of day against yesterday. yesterday may be nil
// on the first run. counters may be nil when totals are not needed.
func (e *Engine) Run(day time.Time, records []RawRecord, yesterday *DailySnapshot, counters *indicator.Counters) (*DailySnapshot, error) {
	if e.Registry == nil || e.Catalog == nil {
		return nil, eris.New("reconcile: engine needs a registry and a catalog")
	}
	if len(e.Match) == 0 {
		return nil, eris.New("reconcile: engine has no matched level")
	}

	countLevel := e.countLevel()
	matcher := &Matcher{Registry: e.Registry, Catalog: e.Catalog}

	var matched []UnitSnapshot
	for _, level := range e.Catalog.Levels() {
		fn, ok := e.Match[level]
		if !ok {
			continue
		}
		var c *indicator.Counters
		if level == countLevel {
			c = counters
		}
		matched = append(matched, matcher.Match(day, records, level, fn, c)...)
	}

	aggregated := (&Aggregator{Registry: e.Registry, Catalog: e.Catalog}).Aggregate(matched)

	var prior []UnitSnapshot
	if yesterday != nil {
		prior = yesterday.Units
	}
	rec := &Reconciler{Registry: e.Registry, Counters: counters, CountLevel: countLevel}
	units, err := rec.Reconcile(aggregated, prior)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s", day.Format(DayLayout))
	}

	zap.L().Debug("reconcile: day complete",
		zap.String("day", day.Format(DayLayout)),
		zap.Int("records", len(records)),
		zap.Int("matched", len(matched)),
		zap.Int("units", len(units)),
	)
	return &DailySnapshot{Date: day, Units: units}, nil
}
