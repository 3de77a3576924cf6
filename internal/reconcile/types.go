// Package reconcile turns one day of raw indicator reports into a reconciled
// snapshot: records are matched to catalog units, summed up the hierarchy and
// merged with the previous day's snapshot.
package reconcile

import (
	"sort"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/covid-cli/internal/catalog"
)

// DayLayout is the date format used for report days.
const DayLayout = "2006-01-02"

// RawRecord is one source row. Fields are keyed by source field name.
type RawRecord struct {
	UnitCode string
	Date     time.Time
	Fields   map[string]float64
}

// UnitSnapshot is the reconciled state of one unit for one day. Values are
// keyed by flat indicator path; Flow indicators also carry their
// "/Accumulated" running sum.
type UnitSnapshot struct {
	UnitCode   string
	Name       string
	Level      catalog.Level
	Geometry   geom.T
	Values     map[string]float64
	Attributes map[string]any
}

// Value returns the value stored for path and whether it is present.
func (u UnitSnapshot) Value(path string) (float64, bool) {
	v, ok := u.Values[path]
	return v, ok
}

// DailySnapshot is the full reconciled output for one day.
type DailySnapshot struct {
	Date  time.Time
	Units []UnitSnapshot
}

// Len returns the number of units in the snapshot. A nil snapshot is empty.
func (d *DailySnapshot) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Units)
}

// Get looks up a unit by level and code.
func (d *DailySnapshot) Get(level catalog.Level, code string) (UnitSnapshot, bool) {
	if d == nil {
		return UnitSnapshot{}, false
	}
	for _, u := range d.Units {
		if u.Level == level && u.UnitCode == code {
			return u, true
		}
	}
	return UnitSnapshot{}, false
}

// Level returns the units of one level in snapshot order.
func (d *DailySnapshot) Level(level catalog.Level) []UnitSnapshot {
	if d == nil {
		return nil
	}
	var out []UnitSnapshot
	for _, u := range d.Units {
		if u.Level == level {
			out = append(out, u)
		}
	}
	return out
}

// Day returns the snapshot date formatted as YYYY-MM-DD.
func (d *DailySnapshot) Day() string {
	if d == nil {
		return ""
	}
	return d.Date.Format(DayLayout)
}

func sortUnits(units []UnitSnapshot) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.UnitCode != b.UnitCode {
			return a.UnitCode < b.UnitCode
		}
		return a.Name < b.Name
	})
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// unitID identifies a unit across days. It uses the same key as the
// day-to-day join.
func unitID(level catalog.Level, name string) string {
	return level.String() + "/" + catalog.NameKey(name)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
