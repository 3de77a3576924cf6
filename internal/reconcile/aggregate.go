package reconcile

import (
	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
)

// Aggregator sums matched units into their ancestors, one level at a time.
type Aggregator struct {
	Registry *indicator.Registry
	Catalog  *catalog.Catalog
}

type levelCode struct {
	level catalog.Level
	code  string
}

// Aggregate returns units extended with every ancestor that has at least one
// contributing child. A parent value is the per-indicator sum over its
// children; a parent that was also matched directly keeps the larger of the
// two. Levels are processed finest first, so a root sums its intermediate
// units rather than the leaves. Units unknown to the catalog or without any
// value are dropped.
func (a *Aggregator) Aggregate(units []UnitSnapshot) []UnitSnapshot {
	byKey := make(map[levelCode]UnitSnapshot, len(units))
	for _, u := range units {
		if len(u.Values) == 0 {
			continue
		}
		if _, ok := a.Catalog.Get(u.Level, u.UnitCode); !ok {
			continue
		}
		k := levelCode{level: u.Level, code: u.UnitCode}
		if prev, ok := byKey[k]; ok {
			u.Values = maxValues(prev.Values, u.Values)
		}
		byKey[k] = u
	}

	levels := a.Catalog.Levels()
	for i, level := range levels {
		if i == 0 {
			continue
		}
		for _, parent := range a.Catalog.Level(level) {
			sums, contributed := a.sumChildren(parent, byKey)
			if !contributed {
				continue
			}
			k := levelCode{level: parent.Level, code: parent.Code}
			direct, ok := byKey[k]
			if !ok {
				direct = UnitSnapshot{
					UnitCode:   parent.Code,
					Name:       parent.Name,
					Level:      parent.Level,
					Geometry:   parent.Geometry,
					Attributes: cloneAttributes(parent.Attributes),
				}
			}
			direct.Values = maxValues(direct.Values, sums)
			byKey[k] = direct
		}
	}

	out := make([]UnitSnapshot, 0, len(byKey))
	for _, u := range byKey {
		out = append(out, u)
	}
	sortUnits(out)
	return out
}

func (a *Aggregator) sumChildren(parent catalog.Unit, byKey map[levelCode]UnitSnapshot) (map[string]float64, bool) {
	sums := make(map[string]float64)
	contributed := false
	for _, child := range a.Catalog.Children(parent) {
		snap, ok := byKey[levelCode{level: child.Level, code: child.Code}]
		if !ok {
			continue
		}
		for _, ind := range a.Registry.All() {
			if v, ok := snap.Values[ind.Path]; ok {
				sums[ind.Path] += v
				contributed = true
			}
		}
	}
	return sums, contributed
}

func maxValues(a, b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}
