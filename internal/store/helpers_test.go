package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

func testRegistry(t *testing.T) *indicator.Registry {
	t.Helper()
	r, err := indicator.NewRegistry(
		indicator.Indicator{SourceField: "casConfirmes", Path: "Confirmed", Kind: indicator.Snapshot},
		indicator.Indicator{SourceField: "urgences", Path: "Emergencies.Total", Kind: indicator.Flow},
	)
	require.NoError(t, err)
	return r
}

func testKey(g catalog.Geometry) Key {
	return Key{Dataset: "covid-19", Geometry: g, Date: time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC)}
}

func testSnapshot() *reconcile.DailySnapshot {
	return &reconcile.DailySnapshot{
		Date: time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC),
		Units: []reconcile.UnitSnapshot{
			{
				UnitCode: "01",
				Name:     "Ain",
				Level:    catalog.Leaf,
				Geometry: geom.NewPointFlat(geom.XY, []float64{5.3, 46.1}).SetSRID(4326),
				Values: map[string]float64{
					"Confirmed":                     12,
					"Emergencies.Total":             3,
					"Emergencies.Total/Accumulated": 9,
				},
				Attributes: map[string]any{"Population.Total": 656955.0},
			},
			{
				UnitCode: "84",
				Name:     "Auvergne-Rhône-Alpes",
				Level:    catalog.Intermediate,
				Values:   map[string]float64{"Confirmed": 40},
			},
			{
				UnitCode: "FRA",
				Name:     "France",
				Level:    catalog.Root,
				Values:   map[string]float64{},
			},
		},
	}
}
