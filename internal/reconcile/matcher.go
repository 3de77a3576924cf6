package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
)

// MatchFunc reports whether a raw record belongs to a catalog unit.
type MatchFunc func(rec RawRecord, unit catalog.Unit) bool

// MatchCode matches records whose code equals the unit code.
func MatchCode(rec RawRecord, unit catalog.Unit) bool {
	return strings.TrimSpace(rec.UnitCode) == unit.Code
}

// MatchPrefixed matches records whose code is the unit code behind prefix,
// e.g. "DEP-01" for unit "01" with prefix "DEP-".
func MatchPrefixed(prefix string) MatchFunc {
	return func(rec RawRecord, unit catalog.Unit) bool {
		code, ok := strings.CutPrefix(strings.TrimSpace(rec.UnitCode), prefix)
		return ok && code == unit.Code
	}
}

// MatchAny matches records accepted by at least one of fns.
func MatchAny(fns ...MatchFunc) MatchFunc {
	return func(rec RawRecord, unit catalog.Unit) bool {
		for _, fn := range fns {
			if fn(rec, unit) {
				return true
			}
		}
		return false
	}
}

// Matcher joins raw records to catalog units and collapses conflicting
// records for one unit into a single value per indicator.
type Matcher struct {
	Registry *indicator.Registry
	Catalog  *catalog.Catalog
}

// Match resolves the records of day against every unit of level. For each
// indicator the maximum over the matching records wins. Records dated on
// another day are ignored; undated records are accepted. Units without a
// matching record, or whose records hold no usable value, are omitted.
//
// When counters is not nil every resolved value is raised into it.
func (m *Matcher) Match(day time.Time, records []RawRecord, level catalog.Level, match MatchFunc, counters *indicator.Counters) []UnitSnapshot {
	if match == nil {
		match = MatchCode
	}

	current := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		if day.IsZero() || rec.Date.IsZero() || sameDay(rec.Date, day) {
			current = append(current, rec)
		}
	}

	dayKey := ""
	if !day.IsZero() {
		dayKey = day.Format(DayLayout)
	}

	var out []UnitSnapshot
	for _, unit := range m.Catalog.Level(level) {
		values := m.resolve(current, unit, match)
		if len(values) == 0 {
			continue
		}

		snap := UnitSnapshot{
			UnitCode:   unit.Code,
			Name:       unit.Name,
			Level:      unit.Level,
			Geometry:   unit.Geometry,
			Values:     values,
			Attributes: cloneAttributes(unit.Attributes),
		}
		out = append(out, snap)

		if counters == nil {
			continue
		}
		id := unitID(unit.Level, unit.Name)
		for _, ind := range m.Registry.All() {
			v, ok := values[ind.Path]
			if !ok {
				continue
			}
			key := indicator.Contribution{Unit: id, Path: ind.Path}
			if ind.IsFlow() {
				key.Day = dayKey
			}
			counters.Raise(key, v)
		}
	}
	return out
}

func (m *Matcher) resolve(records []RawRecord, unit catalog.Unit, match MatchFunc) map[string]float64 {
	best := make(map[string]float64)
	for _, rec := range records {
		if !match(rec, unit) {
			continue
		}
		for _, ind := range m.Registry.All() {
			v, ok := rec.Fields[ind.SourceField]
			if !ok || !usable(v) {
				continue
			}
			if v > best[ind.Path] {
				best[ind.Path] = v
			}
		}
	}
	return best
}

// usable reports whether v may be stored as an indicator value.
func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
