package reconcile

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
)

// Reconciler merges today's aggregated units with yesterday's snapshot.
// Units are joined on (level, display name).
type Reconciler struct {
	Registry *indicator.Registry
	// Counters receives the running totals of emitted units. May be nil.
	Counters *indicator.Counters
	// CountLevel restricts counting to one level. Zero counts every level.
	CountLevel catalog.Level
}

type nameKey struct {
	level catalog.Level
	name  string
}

// Reconcile returns today's reconciled units, sorted by level, code and name.
//
// A unit reported only yesterday is carried forward: Snapshot values and
// Flow accumulations are kept, Flow daily values are dropped. A unit
// reported on both days keeps the larger Snapshot value and adds today's
// Flow value to yesterday's accumulation. A unit reported only today starts
// its accumulations at today's values. Units left without any value are
// omitted.
//
// Units of one level sharing a display name today are logged and joined on
// their code instead; every other unit is unaffected.
func (r *Reconciler) Reconcile(today, yesterday []UnitSnapshot) ([]UnitSnapshot, error) {
	prior, err := r.indexPrior(yesterday)
	if err != nil {
		return nil, err
	}
	priorByCode := make(map[levelCode]nameKey, len(prior))
	for k, y := range prior {
		priorByCode[levelCode{level: y.Level, code: y.UnitCode}] = k
	}

	byName := make(map[nameKey][]UnitSnapshot, len(today))
	for _, u := range today {
		k := nameKey{level: u.Level, name: catalog.NameKey(u.Name)}
		byName[k] = append(byName[k], u)
	}

	out := make([]UnitSnapshot, 0, len(today)+len(prior))
	used := make(map[nameKey]bool, len(prior))
	emit := func(u UnitSnapshot) {
		if len(u.Values) > 0 {
			out = append(out, u)
		}
	}
	for k, units := range byName {
		if len(units) > 1 {
			codes := make([]string, 0, len(units))
			for _, u := range units {
				codes = append(codes, u.UnitCode)
			}
			zap.L().Warn("reconcile: display name shared by several units, joining them on code",
				zap.String("level", k.level.String()),
				zap.String("name", units[0].Name),
				zap.Strings("codes", codes),
			)
		}
		for _, t := range units {
			y, found := prior[k]
			if found && len(units) > 1 {
				found = priorByCode[levelCode{level: t.Level, code: t.UnitCode}] == k
			}
			if found {
				used[k] = true
				emit(r.merge(t, y))
				continue
			}
			emit(r.first(t))
		}
	}

	var carried int
	for k, y := range prior {
		if used[k] {
			continue
		}
		if _, reported := byName[k]; reported {
			// an ambiguous name whose prior unit matched no code today
			continue
		}
		emit(r.carry(y))
		carried++
	}

	sortUnits(out)
	for _, u := range out {
		r.count(u)
	}

	zap.L().Debug("reconcile: merged snapshots",
		zap.Int("today", len(today)),
		zap.Int("yesterday", len(prior)),
		zap.Int("carried_forward", carried),
	)
	return out, nil
}

// first handles a unit with no prior snapshot.
func (r *Reconciler) first(t UnitSnapshot) UnitSnapshot {
	out := withValues(t)
	for _, ind := range r.Registry.All() {
		v, ok := t.Values[ind.Path]
		if !ok || !usable(v) {
			continue
		}
		out.Values[ind.Path] = v
		if ind.IsFlow() {
			out.Values[ind.AccumulatedPath()] = v
		}
	}
	return out
}

// merge handles a unit reported on both days.
func (r *Reconciler) merge(t, y UnitSnapshot) UnitSnapshot {
	out := withValues(t)
	for _, ind := range r.Registry.All() {
		tv, tok := t.Values[ind.Path]
		if tok && !usable(tv) {
			tok = false
		}

		if !ind.IsFlow() {
			yv, yok := y.Values[ind.Path]
			switch {
			case tok && (!yok || tv > yv):
				out.Values[ind.Path] = tv
			case yok:
				out.Values[ind.Path] = yv
			}
			continue
		}

		acc := y.Values[ind.AccumulatedPath()]
		if tok {
			out.Values[ind.Path] = tv
			acc += tv
		}
		if acc > 0 {
			out.Values[ind.AccumulatedPath()] = acc
		}
	}
	return out
}

// carry handles a unit that did not report today.
func (r *Reconciler) carry(y UnitSnapshot) UnitSnapshot {
	out := withValues(y)
	for _, ind := range r.Registry.All() {
		if ind.IsFlow() {
			if acc, ok := y.Values[ind.AccumulatedPath()]; ok {
				out.Values[ind.AccumulatedPath()] = acc
			}
			continue
		}
		if v, ok := y.Values[ind.Path]; ok {
			out.Values[ind.Path] = v
		}
	}
	return out
}

// count raises the running totals held by u. Flow daily values are counted
// by the Matcher for the report day.
func (r *Reconciler) count(u UnitSnapshot) {
	if r.Counters == nil || (r.CountLevel != 0 && u.Level != r.CountLevel) {
		return
	}
	id := unitID(u.Level, u.Name)
	for _, ind := range r.Registry.All() {
		path := ind.Path
		if ind.IsFlow() {
			path = ind.AccumulatedPath()
		}
		if v, ok := u.Values[path]; ok {
			r.Counters.Raise(indicator.Contribution{Unit: id, Path: path}, v)
		}
	}
}

func (r *Reconciler) indexPrior(yesterday []UnitSnapshot) (map[nameKey]UnitSnapshot, error) {
	prior := make(map[nameKey]UnitSnapshot, len(yesterday))
	for i, y := range yesterday {
		name := catalog.NameKey(y.Name)
		if name == "" {
			return nil, eris.Wrapf(ErrCorruptPriorSnapshot, "unit %d (%s) has no name", i, y.UnitCode)
		}
		k := nameKey{level: y.Level, name: name}
		if _, dup := prior[k]; dup {
			return nil, eris.Wrapf(ErrCorruptPriorSnapshot, "%s %q appears twice", y.Level, y.Name)
		}
		if err := r.checkPrior(y); err != nil {
			return nil, err
		}
		prior[k] = y
	}
	return prior, nil
}

func (r *Reconciler) checkPrior(y UnitSnapshot) error {
	for path, v := range y.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return eris.Wrapf(ErrCorruptPriorSnapshot, "%q %s = %v", y.Name, path, v)
		}
	}
	for _, ind := range r.Registry.All() {
		if !ind.IsFlow() {
			continue
		}
		raw, ok := y.Values[ind.Path]
		if !ok {
			continue
		}
		acc, ok := y.Values[ind.AccumulatedPath()]
		if !ok {
			return eris.Wrapf(ErrCorruptPriorSnapshot, "%q has %s without %s", y.Name, ind.Path, ind.AccumulatedPath())
		}
		if acc < raw {
			return eris.Wrapf(ErrCorruptPriorSnapshot, "%q %s %v is below the daily value %v",
				y.Name, ind.AccumulatedPath(), acc, raw)
		}
	}
	return nil
}

// withValues copies the identity of u with an empty value map.
func withValues(u UnitSnapshot) UnitSnapshot {
	return UnitSnapshot{
		UnitCode:   u.UnitCode,
		Name:       u.Name,
		Level:      u.Level,
		Geometry:   u.Geometry,
		Values:     make(map[string]float64),
		Attributes: cloneAttributes(u.Attributes),
	}
}
