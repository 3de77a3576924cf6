package store

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

func TestCodec_CustomCountry(t *testing.T) {
	c := Codec{Registry: testRegistry(t), Country: "Belgique"}
	data, err := c.Encode([]reconcile.UnitSnapshot{{UnitCode: "BE", Name: "Belgique", Level: catalog.Root}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Country/Region":"Belgique"`)
}

func TestCodec_RejectsNonFinite(t *testing.T) {
	c := Codec{Registry: testRegistry(t)}
	_, err := c.Encode([]reconcile.UnitSnapshot{{
		UnitCode: "01", Name: "Ain", Level: catalog.Leaf,
		Values: map[string]float64{"Confirmed": math.Inf(1)},
	}})
	assert.Error(t, err)
}

func TestCodec_DecodeFallsBackToFeatureID(t *testing.T) {
	c := Codec{Registry: testRegistry(t)}
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","id":"75","geometry":null,
		"properties":{"Province/State":"Paris","Hospitals":{"Count":12}}}]}`

	units, err := c.Decode([]byte(doc), catalog.Leaf)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "75", units[0].UnitCode)
	assert.Equal(t, map[string]any{"Hospitals.Count": 12.0}, units[0].Attributes)
	assert.Empty(t, units[0].Values)
}

func TestCodec_DecodeRequiresName(t *testing.T) {
	c := Codec{Registry: testRegistry(t)}
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"code":"01"}}]}`

	_, err := c.Decode([]byte(doc), catalog.Leaf)
	assert.ErrorIs(t, err, reconcile.ErrCorruptPriorSnapshot)
}

func TestNest(t *testing.T) {
	props := map[string]interface{}{}
	nest(props, "Tests.PCR", 1.0)
	nest(props, "Tests.PCR/Accumulated", 4.0)
	nest(props, "Confirmed", 2.0)

	data, err := json.Marshal(props)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Confirmed":2,"Tests":{"PCR":1,"PCR/Accumulated":4}}`, string(data))

	flat := map[string]any{}
	flatten(flat, "Tests", props["Tests"])
	assert.Equal(t, map[string]any{"Tests.PCR": 1.0, "Tests.PCR/Accumulated": 4.0}, flat)
}
