package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/covid-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_StartAndComplete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, "covid-19", "Point", "2020-04-02")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	err = st.CompleteRun(ctx, run.ID, &model.RunResult{
		Units:         114,
		Records:       230,
		FailedSources: []string{"ars/corse"},
		Totals:        map[string]float64{"Confirmed": 5},
	})
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, "covid-19", got.Dataset)
	assert.Equal(t, "Point", got.Geometry)
	assert.Equal(t, "2020-04-02", got.Day)
	assert.Equal(t, 114, got.Units)
	assert.Equal(t, 230, got.Records)
	assert.Equal(t, []string{"ars/corse"}, got.FailedSources)
	assert.Equal(t, map[string]float64{"Confirmed": 5}, got.Totals)
	assert.Empty(t, got.Error)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, "covid-19", "Polygon", "2020-04-02")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, errors.New("corrupt prior snapshot")))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "corrupt prior snapshot", got.Error)
	assert.Nil(t, got.Totals)
}

func TestSQLite_UnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, st.CompleteRun(ctx, "missing", nil))
	assert.Error(t, st.FailRun(ctx, "missing", errors.New("x")))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.StartRun(ctx, "covid-19", "Point", "2020-04-01")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, a.ID, &model.RunResult{Units: 1}))
	b, err := st.StartRun(ctx, "covid-19", "Point", "2020-04-02")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, b.ID, errors.New("boom")))
	_, err = st.StartRun(ctx, "other", "Polygon", "2020-04-02")
	require.NoError(t, err)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	byDataset, err := st.ListRuns(ctx, RunFilter{Dataset: "covid-19"})
	require.NoError(t, err)
	assert.Len(t, byDataset, 2)

	byDay, err := st.ListRuns(ctx, RunFilter{Day: "2020-04-02"})
	require.NoError(t, err)
	assert.Len(t, byDay, 2)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
