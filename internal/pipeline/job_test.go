package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

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

const baseURL = "http://reports.test"

type mapFetcher struct {
	mu   sync.Mutex
	docs map[string]string
}

func (m *mapFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[url]
	if !ok {
		return nil, eris.Wrapf(fetcher.ErrNotFound, "fetcher: %s", url)
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

func day(n int) time.Time { return time.Date(2020, time.April, n, 0, 0, 0, 0, time.UTC) }

func reportURL(region string, d time.Time) string {
	return baseURL + "/" + region + "/" + d.Format(reconcile.DayLayout) + ".yaml"
}

const day1Report = `donneesDepartementales:
  - code: DEP-01
    nom: Ain
    casConfirmes: 10
    urgences: 4
  - code: DEP-03
    nom: Allier
    casConfirmes: 5
    urgences: 2
`

const day2Report = `donneesDepartementales:
  - code: DEP-01
    nom: Ain
    casConfirmes: 12
    urgences: 6
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	square := geom.NewPolygonFlat(geom.XY, []float64{4, 45, 6, 45, 6, 47, 4, 47, 4, 45}, []int{10}).SetSRID(4326)
	c, err := catalog.New([]catalog.Unit{
		{Code: "01", Name: "Ain", Level: catalog.Leaf, ParentCode: "84", Geometry: square},
		{Code: "03", Name: "Allier", Level: catalog.Leaf, ParentCode: "84"},
		{Code: "84", Name: "Auvergne-Rhône-Alpes", Level: catalog.Intermediate, ParentCode: "FRA"},
		{Code: "FRA", Name: "France", Level: catalog.Root},
	})
	require.NoError(t, err)
	return c
}

func testRegistry(t *testing.T) *indicator.Registry {
	t.Helper()
	r, err := indicator.NewRegistry(
		indicator.Indicator{SourceField: "casConfirmes", Path: "Confirmed", Kind: indicator.Snapshot},
		indicator.Indicator{SourceField: "urgences", Path: "Emergencies.Total", Kind: indicator.Flow},
	)
	require.NoError(t, err)
	return r
}

type fixture struct {
	job     *Job
	fs      *store.FSStore
	runs    *store.SQLiteStore
	fetcher *mapFetcher
	prom    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := testRegistry(t)

	fs, err := store.NewFS(t.TempDir(), reg, "")
	require.NoError(t, err)

	runs, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() }) //nolint:errcheck
	require.NoError(t, runs.Migrate(context.Background()))

	f := &mapFetcher{docs: map[string]string{
		reportURL("auvergne-rhone-alpes", day(1)): day1Report,
		reportURL("auvergne-rhone-alpes", day(2)): day2Report,
	}}
	cfg := source.Config{
		ARS: source.ARSConfig{BaseURL: baseURL, Regions: []string{"auvergne-rhone-alpes", "corse"}},
		CSV: []source.CSVSource{{ID: "off", Disabled: true}},
	}

	prom := prometheus.NewRegistry()
	return &fixture{
		job: &Job{
			Dataset:    "covid-19",
			Registry:   reg,
			Catalog:    testCatalog(t),
			Sources:    cfg.Sources(),
			Fetcher:    f,
			Store:      fs,
			Runs:       runs,
			Metrics:    monitoring.New(prom),
			StoreRetry: resilience.RetryConfig{MaxAttempts: 1},
		},
		fs:      fs,
		runs:    runs,
		fetcher: f,
		prom:    prom,
	}
}

func value(t *testing.T, snap *reconcile.DailySnapshot, level catalog.Level, code, path string) float64 {
	t.Helper()
	u, ok := snap.Get(level, code)
	require.True(t, ok, "unit %s/%s missing", level, code)
	v, ok := u.Value(path)
	require.True(t, ok, "%s missing on %s/%s", path, level, code)
	return v
}

func TestJob_RunFirstDay(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.job.Run(context.Background(), day(1), catalog.GeometryPolygon)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Records)
	assert.Equal(t, []string{"ars/corse"}, res.Failed)
	assert.Equal(t, 10.0, value(t, res.Snapshot, catalog.Leaf, "01", "Confirmed"))
	assert.Equal(t, 15.0, value(t, res.Snapshot, catalog.Intermediate, "84", "Confirmed"))
	assert.Equal(t, 15.0, value(t, res.Snapshot, catalog.Root, "FRA", "Confirmed"))
	assert.Equal(t, 6.0, value(t, res.Snapshot, catalog.Root, "FRA", "Emergencies.Total/Accumulated"))

	assert.Equal(t, 15.0, res.Totals["Confirmed"])
	assert.Equal(t, 6.0, res.Totals["Emergencies.Total"])
	assert.Equal(t, 6.0, res.Totals["Emergencies.Total/Accumulated"])

	_, err = os.Stat(filepath.Join(fx.fs.Dir, "departements-covid-19-polygons-2020-04-01.json"))
	assert.NoError(t, err)

	run, err := fx.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 4, run.Units)
	assert.Equal(t, []string{"ars/corse"}, run.FailedSources)
	assert.Equal(t, 15.0, run.Totals["Confirmed"])
}

func TestJob_RunBuildsOnPreviousDay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.job.Run(ctx, day(1), catalog.GeometryPoint)
	require.NoError(t, err)
	res, err := fx.job.Run(ctx, day(2), catalog.GeometryPoint)
	require.NoError(t, err)

	snap := res.Snapshot
	assert.Equal(t, 12.0, value(t, snap, catalog.Leaf, "01", "Confirmed"))
	assert.Equal(t, 10.0, value(t, snap, catalog.Leaf, "01", "Emergencies.Total/Accumulated"))

	// Allier did not report and is carried forward without its daily value.
	assert.Equal(t, 5.0, value(t, snap, catalog.Leaf, "03", "Confirmed"))
	allier, _ := snap.Get(catalog.Leaf, "03")
	_, hasDaily := allier.Value("Emergencies.Total")
	assert.False(t, hasDaily)

	// The region only sums Ain today and keeps yesterday's higher total.
	assert.Equal(t, 15.0, value(t, snap, catalog.Intermediate, "84", "Confirmed"))
	assert.Equal(t, 12.0, value(t, snap, catalog.Intermediate, "84", "Emergencies.Total/Accumulated"))

	assert.Equal(t, 17.0, res.Totals["Confirmed"])
	assert.Equal(t, 6.0, res.Totals["Emergencies.Total"])
	assert.Equal(t, 12.0, res.Totals["Emergencies.Total/Accumulated"])

	ain, _ := snap.Get(catalog.Leaf, "01")
	pt, ok := ain.Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, 5.0, pt.X(), 1e-9)
	assert.InDelta(t, 46.0, pt.Y(), 1e-9)
}

func TestJob_Backfill(t *testing.T) {
	fx := newFixture(t)

	results, err := fx.job.Backfill(context.Background(), day(1), day(3),
		[]catalog.Geometry{catalog.GeometryPoint, catalog.GeometryPolygon})
	require.NoError(t, err)
	require.Len(t, results, 6)

	last := results[len(results)-1]
	assert.Equal(t, "2020-04-03", last.Key.Day())
	// Day 3 has no report: everything is carried forward.
	assert.Equal(t, 12.0, value(t, last.Snapshot, catalog.Leaf, "01", "Confirmed"))
	assert.Equal(t, 17.0, last.Totals["Confirmed"])
	assert.Equal(t, 12.0, last.Totals["Emergencies.Total"])
	assert.Equal(t, 12.0, last.Totals["Emergencies.Total/Accumulated"])

	for _, name := range []string{
		"national-covid-19-2020-04-03.json",
		"national-covid-19-polygons-2020-04-03.json",
		"regions-covid-19-2020-04-02.json",
	} {
		_, err := os.Stat(filepath.Join(fx.fs.Dir, name))
		assert.NoError(t, err, name)
	}

	runs, err := fx.runs.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 6)
}

func TestJob_BackfillRejectsReversedRange(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.job.Backfill(context.Background(), day(3), day(1), []catalog.Geometry{catalog.GeometryPoint})
	require.Error(t, err)
}

func TestJob_CorruptPreviousSnapshot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	key := store.Key{Dataset: "covid-19", Geometry: catalog.GeometryPoint, Date: day(1)}
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,
		"properties":{"Province/State":"Ain","code":"01","Confirmed":"n/a"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(fx.fs.Dir, fx.fs.FileName(key, catalog.Leaf)), []byte(doc), 0o644))

	_, err := fx.job.Run(ctx, day(2), catalog.GeometryPoint)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrCorruptPriorSnapshot))

	runs, err := fx.runs.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "corrupt")

	key.Date = day(2)
	_, err = fx.fs.Load(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	j := *fx.job
	j.Store = nil
	_, err := j.Run(ctx, day(1), catalog.GeometryPoint)
	assert.Error(t, err)

	j = *fx.job
	j.Dataset = ""
	_, err = j.Run(ctx, day(1), catalog.GeometryPoint)
	assert.Error(t, err)

	_, err = fx.job.RunVariants(ctx, day(1), nil, nil)
	assert.Error(t, err)
}

func TestJob_CancelledContext(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.job.Run(ctx, day(1), catalog.GeometryPoint)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultMatch(t *testing.T) {
	m := DefaultMatch()
	ain := catalog.Unit{Code: "01", Level: catalog.Leaf}
	vaucluse := catalog.Unit{Code: "84", Level: catalog.Leaf}
	ara := catalog.Unit{Code: "84", Level: catalog.Intermediate}

	assert.True(t, m[catalog.Leaf](reconcile.RawRecord{UnitCode: "01"}, ain))
	assert.True(t, m[catalog.Leaf](reconcile.RawRecord{UnitCode: "DEP-01"}, ain))
	assert.False(t, m[catalog.Leaf](reconcile.RawRecord{UnitCode: "REG-84"}, vaucluse))
	assert.True(t, m[catalog.Intermediate](reconcile.RawRecord{UnitCode: "REG-84"}, ara))
	assert.False(t, m[catalog.Intermediate](reconcile.RawRecord{UnitCode: "84"}, ara))
}
