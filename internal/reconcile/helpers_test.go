package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
)

func testRegistry(t *testing.T) *indicator.Registry {
	t.Helper()
	reg, err := indicator.NewRegistry(
		indicator.Indicator{SourceField: "casConfirmes", Path: "Confirmed", Kind: indicator.Snapshot},
		indicator.Indicator{SourceField: "deces", Path: "Deaths", Kind: indicator.Snapshot},
		indicator.Indicator{SourceField: "hospitalises", Path: "Severe", Kind: indicator.Flow},
	)
	require.NoError(t, err)
	return reg
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Unit{
		{Code: "01", Name: "Ain", Level: catalog.Leaf, ParentCode: "84"},
		{Code: "03", Name: "Allier", Level: catalog.Leaf, ParentCode: "84"},
		{Code: "75", Name: "Paris", Level: catalog.Leaf, ParentCode: "11"},
		{Code: "84", Name: "Auvergne-Rhône-Alpes", Level: catalog.Intermediate, ParentCode: "FRA"},
		{Code: "11", Name: "Île-de-France", Level: catalog.Intermediate, ParentCode: "FRA"},
		{Code: "FRA", Name: "France", Level: catalog.Root, Attributes: map[string]any{"Population.Total": 67e6}},
	})
	require.NoError(t, err)
	return c
}

func day(n int) time.Time {
	return time.Date(2020, time.April, n, 0, 0, 0, 0, time.UTC)
}

func rec(code string, d time.Time, fields map[string]float64) RawRecord {
	return RawRecord{UnitCode: code, Date: d, Fields: fields}
}

func leafSnap(code, name string, values map[string]float64) UnitSnapshot {
	return UnitSnapshot{UnitCode: code, Name: name, Level: catalog.Leaf, Values: values}
}
