package indicator

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Registry is the fixed, ordered table of indicators for a process.
type Registry struct {
	indicators []Indicator
	bySource   map[string]int
	byPath     map[string]int
}

// NewRegistry validates the definitions and builds a registry. Definition
// order is preserved and drives every iteration over the registry.
func NewRegistry(defs ...Indicator) (*Registry, error) {
	if len(defs) == 0 {
		return nil, eris.New("indicator: registry needs at least one indicator")
	}

	r := &Registry{
		indicators: make([]Indicator, 0, len(defs)),
		bySource:   make(map[string]int, len(defs)),
		byPath:     make(map[string]int, len(defs)*2),
	}

	for _, d := range defs {
		if d.SourceField == "" || d.Path == "" {
			return nil, eris.Errorf("indicator: source field and path are required (got %q -> %q)", d.SourceField, d.Path)
		}
		if d.Kind != Snapshot && d.Kind != Flow {
			return nil, eris.Errorf("indicator: %q has no kind", d.Path)
		}
		if strings.HasSuffix(d.Path, AccumulatedSuffix) {
			return nil, eris.Errorf("indicator: path %q uses the reserved %s suffix", d.Path, AccumulatedSuffix)
		}
		if _, dup := r.bySource[d.SourceField]; dup {
			return nil, eris.Errorf("indicator: duplicate source field %q", d.SourceField)
		}
		if _, dup := r.byPath[d.Path]; dup {
			return nil, eris.Errorf("indicator: duplicate path %q", d.Path)
		}

		idx := len(r.indicators)
		r.indicators = append(r.indicators, d)
		r.bySource[d.SourceField] = idx
		r.byPath[d.Path] = idx
	}

	return r, nil
}

// FromDefs resolves configuration definitions into a registry.
func FromDefs(defs []Def) (*Registry, error) {
	inds := make([]Indicator, 0, len(defs))
	for _, d := range defs {
		ind, err := d.Resolve()
		if err != nil {
			return nil, err
		}
		inds = append(inds, ind)
	}
	return NewRegistry(inds...)
}

// Default returns the registry of indicators published by the French
// regional health agencies and Santé publique France.
func Default() *Registry {
	r, err := NewRegistry(
		Indicator{SourceField: "casConfirmes", Path: "Confirmed", Kind: Snapshot},
		Indicator{SourceField: "deces", Path: "Deaths", Kind: Snapshot},
		Indicator{SourceField: "gueris", Path: "Recovered", Kind: Snapshot},
		Indicator{SourceField: "hospitalises", Path: "Severe", Kind: Snapshot},
		Indicator{SourceField: "reanimation", Path: "Critical", Kind: Snapshot},
		Indicator{SourceField: "urgences", Path: "Emergencies.Total", Kind: Flow},
		Indicator{SourceField: "urgencesHospitalises", Path: "Emergencies.Severe", Kind: Flow},
		Indicator{SourceField: "actes", Path: "MedicalActs.Total", Kind: Flow},
		Indicator{SourceField: "testsLaboratoire", Path: "Tests.Laboratory", Kind: Flow},
		Indicator{SourceField: "casConfirmesLaboratoire", Path: "Tests.LaboratoryPositive", Kind: Flow},
		Indicator{SourceField: "testsPCR", Path: "Tests.PCR", Kind: Flow},
		Indicator{SourceField: "casConfirmesPCR", Path: "Tests.PCRPositive", Kind: Flow},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns the indicators in definition order.
func (r *Registry) All() []Indicator {
	out := make([]Indicator, len(r.indicators))
	copy(out, r.indicators)
	return out
}

// Len returns the number of indicators.
func (r *Registry) Len() int { return len(r.indicators) }

// BySource looks up an indicator by its source field name.
func (r *Registry) BySource(field string) (Indicator, bool) {
	idx, ok := r.bySource[field]
	if !ok {
		return Indicator{}, false
	}
	return r.indicators[idx], true
}

// ByPath looks up an indicator by its canonical path.
func (r *Registry) ByPath(path string) (Indicator, bool) {
	idx, ok := r.byPath[path]
	if !ok {
		return Indicator{}, false
	}
	return r.indicators[idx], true
}

// Known reports whether path is an indicator path or a Flow accumulated path.
func (r *Registry) Known(path string) bool {
	if _, ok := r.byPath[path]; ok {
		return true
	}
	base, ok := strings.CutSuffix(path, AccumulatedSuffix)
	if !ok {
		return false
	}
	ind, ok := r.ByPath(base)
	return ok && ind.IsFlow()
}

// CounterPaths returns every path a Counters instance tracks: each
// indicator path followed, for Flow indicators, by its accumulated path.
func (r *Registry) CounterPaths() []string {
	paths := make([]string, 0, len(r.indicators)*2)
	for _, ind := range r.indicators {
		paths = append(paths, ind.Path)
		if ind.IsFlow() {
			paths = append(paths, ind.AccumulatedPath())
		}
	}
	return paths
}
