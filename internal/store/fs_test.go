package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

func newTestFS(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFS(t.TempDir(), testRegistry(t), "")
	require.NoError(t, err)
	return s
}

func TestFSStore_FileName(t *testing.T) {
	s := newTestFS(t)

	assert.Equal(t, "departements-covid-19-2020-04-02.json", s.FileName(testKey(catalog.GeometryPoint), catalog.Leaf))
	assert.Equal(t, "regions-covid-19-polygons-2020-04-02.json", s.FileName(testKey(catalog.GeometryPolygon), catalog.Intermediate))
	assert.Equal(t, "national-covid-19-2020-04-02.json", s.FileName(testKey(catalog.GeometryPoint), catalog.Root))
}

func TestFSStore_SaveWritesNestedProperties(t *testing.T) {
	s := newTestFS(t)
	key := testKey(catalog.GeometryPoint)
	require.NoError(t, s.Save(context.Background(), key, testSnapshot()))

	data, err := os.ReadFile(filepath.Join(s.Dir, s.FileName(key, catalog.Leaf)))
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)

	props := fc.Features[0].Properties
	assert.Equal(t, "France", props["Country/Region"])
	assert.Equal(t, "Ain", props["Province/State"])
	assert.Equal(t, "01", props["code"])
	assert.Equal(t, "leaf", props["level"])
	assert.Equal(t, 12.0, props["Confirmed"])
	assert.Equal(t, map[string]any{"Total": 3.0, "Total/Accumulated": 9.0}, props["Emergencies"])
	assert.Equal(t, map[string]any{"Total": 656955.0}, props["Population"])
}

func TestFSStore_RoundTrip(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	key := testKey(catalog.GeometryPolygon)
	require.NoError(t, s.Save(ctx, key, testSnapshot()))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2020-04-02", got.Day())
	require.Equal(t, 3, got.Len())

	ain, ok := got.Get(catalog.Leaf, "01")
	require.True(t, ok)
	assert.Equal(t, "Ain", ain.Name)
	assert.Equal(t, map[string]float64{
		"Confirmed":                     12,
		"Emergencies.Total":             3,
		"Emergencies.Total/Accumulated": 9,
	}, ain.Values)
	assert.Equal(t, map[string]any{"Population.Total": 656955.0}, ain.Attributes)
	pt, ok := ain.Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, 5.3, pt.X(), 1e-9)

	region, ok := got.Get(catalog.Intermediate, "84")
	require.True(t, ok)
	assert.Equal(t, "Auvergne-Rhône-Alpes", region.Name)
	assert.Nil(t, region.Geometry)

	nation, ok := got.Get(catalog.Root, "FRA")
	require.True(t, ok)
	assert.Empty(t, nation.Values)
}

func TestFSStore_SaveReplaces(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	key := testKey(catalog.GeometryPoint)
	require.NoError(t, s.Save(ctx, key, testSnapshot()))

	next := testSnapshot()
	next.Units[0].Values["Confirmed"] = 20
	require.NoError(t, s.Save(ctx, key, next))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	ain, _ := got.Get(catalog.Leaf, "01")
	assert.Equal(t, 20.0, ain.Values["Confirmed"])

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFSStore_LoadNotFound(t *testing.T) {
	s := newTestFS(t)
	_, err := s.Load(context.Background(), testKey(catalog.GeometryPoint))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFSStore_LoadNonNumericIndicator(t *testing.T) {
	s := newTestFS(t)
	key := testKey(catalog.GeometryPoint)
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,
		"properties":{"Province/State":"Ain","code":"01","Confirmed":"twelve"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, s.FileName(key, catalog.Leaf)), []byte(doc), 0o644))

	_, err := s.Load(context.Background(), key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrCorruptPriorSnapshot))
}

func TestFSStore_LoadMalformedJSON(t *testing.T) {
	s := newTestFS(t)
	key := testKey(catalog.GeometryPoint)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, s.FileName(key, catalog.Root)), []byte("{"), 0o644))

	_, err := s.Load(context.Background(), key)
	assert.True(t, errors.Is(err, reconcile.ErrCorruptPriorSnapshot))
}

func TestFSStore_InvalidKey(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	key := testKey(catalog.GeometryPoint)
	key.Dataset = ""
	assert.Error(t, s.Save(ctx, key, testSnapshot()))

	key = testKey("Hexagon")
	_, err := s.Load(ctx, key)
	assert.Error(t, err)
}

func TestNewFS_Validation(t *testing.T) {
	_, err := NewFS("", testRegistry(t), "")
	assert.Error(t, err)
	_, err = NewFS(t.TempDir(), nil, "")
	assert.Error(t, err)
}

func TestKey_Prev(t *testing.T) {
	key := testKey(catalog.GeometryPoint)
	assert.Equal(t, "2020-04-01", key.Prev().Day())
	assert.Equal(t, "2020-04-02", key.Day())
}
