package store

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// Reserved feature properties.
const (
	PropCountry = "Country/Region"
	PropName    = "Province/State"
	PropCode    = "code"
	PropLevel   = "level"
)

// Codec converts unit snapshots to and from GeoJSON FeatureCollections.
// Flat indicator and attribute paths are nested on "." only here.
type Codec struct {
	Registry *indicator.Registry
	Country  string
}

// Encode renders units as a FeatureCollection.
func (c Codec) Encode(units []reconcile.UnitSnapshot) ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(units))}
	for _, u := range units {
		props := map[string]interface{}{
			PropCountry: c.country(),
			PropName:    u.Name,
			PropCode:    u.UnitCode,
			PropLevel:   u.Level.String(),
		}
		for _, path := range sortedKeys(u.Attributes) {
			nest(props, path, u.Attributes[path])
		}
		for _, path := range sortedKeys(u.Values) {
			v := u.Values[path]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, eris.Errorf("store: %s %s has non-finite %s", u.Level, u.UnitCode, path)
			}
			nest(props, path, v)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         u.UnitCode,
			Geometry:   u.Geometry,
			Properties: props,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode GeoJSON")
	}
	return data, nil
}

// Decode parses a FeatureCollection of one level back into units.
// Properties that name a known indicator path must be numbers.
func (c Codec) Decode(data []byte, level catalog.Level) ([]reconcile.UnitSnapshot, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(reconcile.ErrCorruptPriorSnapshot, "store: decode GeoJSON: %v", err)
	}

	units := make([]reconcile.UnitSnapshot, 0, len(fc.Features))
	for i, f := range fc.Features {
		u := reconcile.UnitSnapshot{
			Level:    level,
			Geometry: f.Geometry,
			Values:   make(map[string]float64),
		}
		flat := make(map[string]any)
		for k, v := range f.Properties {
			switch k {
			case PropCountry, PropLevel:
			case PropName:
				u.Name, _ = v.(string)
			case PropCode:
				u.UnitCode, _ = v.(string)
			default:
				flatten(flat, k, v)
			}
		}
		if u.UnitCode == "" {
			u.UnitCode = f.ID
		}
		if u.Name == "" {
			return nil, eris.Wrapf(reconcile.ErrCorruptPriorSnapshot, "store: feature %d has no %q", i, PropName)
		}

		for path, v := range flat {
			if !c.Registry.Known(path) {
				if u.Attributes == nil {
					u.Attributes = make(map[string]any)
				}
				u.Attributes[path] = v
				continue
			}
			n, ok := v.(float64)
			if !ok {
				return nil, eris.Wrapf(reconcile.ErrCorruptPriorSnapshot,
					"store: %s %q has non-numeric %s", level, u.Name, path)
			}
			u.Values[path] = n
		}
		units = append(units, u)
	}
	return units, nil
}

func (c Codec) country() string {
	if c.Country == "" {
		return "France"
	}
	return c.Country
}

// nest stores v under the "."-separated path of props, creating objects
// along the way. A scalar in the way is replaced.
func nest(props map[string]interface{}, path string, v any) {
	parts := strings.Split(path, ".")
	m := props
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func flatten(out map[string]any, prefix string, v any) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		out[prefix] = v
		return
	}
	for k, child := range obj {
		flatten(out, prefix+"."+k, child)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
