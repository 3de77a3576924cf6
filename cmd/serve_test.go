package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/model"
	"github.com/sells-group/covid-cli/internal/monitoring"
	"github.com/sells-group/covid-cli/internal/reconcile"
	"github.com/sells-group/covid-cli/internal/store"
)

func testAPI(t *testing.T) *snapshotAPI {
	t.Helper()
	reg := indicator.Default()
	fs, err := store.NewFS(t.TempDir(), reg, "France")
	require.NoError(t, err)

	day := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)
	snap := &reconcile.DailySnapshot{Date: day, Units: []reconcile.UnitSnapshot{
		{UnitCode: "01", Name: "Ain", Level: catalog.Leaf, Values: map[string]float64{"Confirmed": 10}},
		{UnitCode: "84", Name: "Auvergne-Rhône-Alpes", Level: catalog.Intermediate, Values: map[string]float64{"Confirmed": 10}},
	}}
	key := store.Key{Dataset: "covid-19", Geometry: catalog.GeometryPoint, Date: day}
	require.NoError(t, fs.Save(context.Background(), key, snap))

	return &snapshotAPI{snaps: fs, codec: store.Codec{Registry: reg, Country: "France"}}
}

func serveRequest(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	h := buildRouter(&snapshotAPI{}, []string{"*"})

	rr := serveRequest(h, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_Snapshot(t *testing.T) {
	h := buildRouter(testAPI(t), []string{"*"})

	rr := serveRequest(h, "/snapshots/covid-19/2020-04-01")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))

	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 2)
}

func TestBuildRouter_SnapshotLevelFilter(t *testing.T) {
	h := buildRouter(testAPI(t), []string{"*"})

	rr := serveRequest(h, "/snapshots/covid-19/2020-04-01?geometry=point&level=intermediate")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Auvergne-Rhône-Alpes", fc.Features[0].Properties[store.PropName])
	assert.Equal(t, "France", fc.Features[0].Properties[store.PropCountry])
}

func TestBuildRouter_SnapshotErrors(t *testing.T) {
	h := buildRouter(testAPI(t), []string{"*"})

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"bad date", "/snapshots/covid-19/April", http.StatusBadRequest},
		{"bad geometry", "/snapshots/covid-19/2020-04-01?geometry=hex", http.StatusBadRequest},
		{"bad level", "/snapshots/covid-19/2020-04-01?level=canton", http.StatusBadRequest},
		{"missing day", "/snapshots/covid-19/2020-03-01", http.StatusNotFound},
		{"missing variant", "/snapshots/covid-19/2020-04-01?geometry=polygon", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serveRequest(h, tt.target)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBuildRouter_RunSummary(t *testing.T) {
	ctx := context.Background()
	rl, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer rl.Close() //nolint:errcheck
	require.NoError(t, rl.Migrate(ctx))

	run, err := rl.StartRun(ctx, "covid-19", "Point", "2020-04-01")
	require.NoError(t, err)
	require.NoError(t, rl.CompleteRun(ctx, run.ID, &model.RunResult{Units: 2}))

	api := testAPI(t)
	api.collector = monitoring.NewCollector(rl)
	h := buildRouter(api, []string{"*"})

	rr := serveRequest(h, "/runs/summary?dataset=covid-19")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var sum monitoring.RunSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Complete)
	assert.Equal(t, "2020-04-01", sum.LastComplete["Point"])
}

func TestBuildRouter_RunSummaryDisabled(t *testing.T) {
	h := buildRouter(&snapshotAPI{}, []string{"*"})

	rr := serveRequest(h, "/runs/summary")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBuildRouter_Metrics(t *testing.T) {
	h := buildRouter(&snapshotAPI{}, []string{"*"})

	rr := serveRequest(h, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestBuildRouter_CORS(t *testing.T) {
	h := buildRouter(&snapshotAPI{}, []string{"https://example.org"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}
