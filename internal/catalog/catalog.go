// Package catalog holds the administrative units (departements, regions,
// nation) that indicator reports are reconciled against.
package catalog

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/unicode/norm"
)

// Level is the position of a unit in the administrative hierarchy.
type Level int

const (
	Leaf         Level = iota + 1 // departement
	Intermediate                  // region
	Root                          // nation
)

// String returns the configuration name of the level.
func (l Level) String() string {
	switch l {
	case Leaf:
		return "leaf"
	case Intermediate:
		return "intermediate"
	case Root:
		return "root"
	default:
		return "unknown"
	}
}

// ParseLevel converts "leaf", "intermediate" or "root" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leaf":
		return Leaf, nil
	case "intermediate":
		return Intermediate, nil
	case "root":
		return Root, nil
	default:
		return 0, eris.Errorf("catalog: unknown level %q (valid: leaf, intermediate, root)", s)
	}
}

// Unit is one administrative unit. Geometry and Attributes are opaque to the
// reconciliation engine and copied through onto its output.
type Unit struct {
	Code       string
	Name       string
	Level      Level
	ParentCode string
	Geometry   geom.T
	Attributes map[string]any
}

// NameKey normalizes a display name for joins across sources that spell the
// same name with different Unicode forms or padding.
func NameKey(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

type unitKey struct {
	level Level
	code  string
}

// Catalog is a read-only set of units with a precomputed parent/child index.
type Catalog struct {
	units    []Unit
	index    map[unitKey]int
	parent   map[int]int
	children map[int][]int
	levels   []Level
}

// New validates units and builds the hierarchy index. Unit order is kept.
// A parent code resolves to the nearest higher level that has the code.
func New(units []Unit) (*Catalog, error) {
	c := &Catalog{
		units:    make([]Unit, len(units)),
		index:    make(map[unitKey]int, len(units)),
		parent:   make(map[int]int),
		children: make(map[int][]int),
	}
	copy(c.units, units)

	seenLevel := make(map[Level]bool)
	for i, u := range c.units {
		if u.Code == "" || u.Name == "" {
			return nil, eris.Errorf("catalog: unit %d has an empty code or name", i)
		}
		if u.Level < Leaf || u.Level > Root {
			return nil, eris.Errorf("catalog: unit %s has invalid level %d", u.Code, u.Level)
		}
		k := unitKey{level: u.Level, code: u.Code}
		if _, dup := c.index[k]; dup {
			return nil, eris.Errorf("catalog: duplicate %s code %q", u.Level, u.Code)
		}
		c.index[k] = i
		if !seenLevel[u.Level] {
			seenLevel[u.Level] = true
			c.levels = append(c.levels, u.Level)
		}
	}
	sort.Slice(c.levels, func(i, j int) bool { return c.levels[i] < c.levels[j] })

	for i, u := range c.units {
		if u.ParentCode == "" {
			continue
		}
		p, ok := c.resolveParent(u)
		if !ok {
			return nil, eris.Errorf("catalog: %s %q references unknown parent %q", u.Level, u.Code, u.ParentCode)
		}
		c.parent[i] = p
		c.children[p] = append(c.children[p], i)
	}

	return c, nil
}

func (c *Catalog) resolveParent(u Unit) (int, bool) {
	for l := u.Level + 1; l <= Root; l++ {
		if idx, ok := c.index[unitKey{level: l, code: u.ParentCode}]; ok {
			return idx, true
		}
	}
	return 0, false
}

// Len returns the number of units.
func (c *Catalog) Len() int { return len(c.units) }

// Units returns every unit in catalog order.
func (c *Catalog) Units() []Unit {
	out := make([]Unit, len(c.units))
	copy(out, c.units)
	return out
}

// Levels returns the levels present in the catalog, finest first.
func (c *Catalog) Levels() []Level {
	out := make([]Level, len(c.levels))
	copy(out, c.levels)
	return out
}

// Get looks up a unit by level and code.
func (c *Catalog) Get(level Level, code string) (Unit, bool) {
	idx, ok := c.index[unitKey{level: level, code: code}]
	if !ok {
		return Unit{}, false
	}
	return c.units[idx], true
}

// Level returns the units of one level in catalog order.
func (c *Catalog) Level(level Level) []Unit {
	var out []Unit
	for _, u := range c.units {
		if u.Level == level {
			out = append(out, u)
		}
	}
	return out
}

// Parent returns the parent of u, if any.
func (c *Catalog) Parent(u Unit) (Unit, bool) {
	idx, ok := c.index[unitKey{level: u.Level, code: u.Code}]
	if !ok {
		return Unit{}, false
	}
	p, ok := c.parent[idx]
	if !ok {
		return Unit{}, false
	}
	return c.units[p], true
}

// Children returns the direct children of u in catalog order.
func (c *Catalog) Children(u Unit) []Unit {
	idx, ok := c.index[unitKey{level: u.Level, code: u.Code}]
	if !ok {
		return nil
	}
	kids := c.children[idx]
	out := make([]Unit, 0, len(kids))
	for _, k := range kids {
		out = append(out, c.units[k])
	}
	return out
}

// DuplicateNames lists display names shared by more than one unit of the
// same level. Such units cannot be told apart by a name-keyed join.
func (c *Catalog) DuplicateNames() map[Level][]string {
	seen := make(map[unitKey]int)
	for _, u := range c.units {
		seen[unitKey{level: u.Level, code: NameKey(u.Name)}]++
	}
	out := make(map[Level][]string)
	for k, n := range seen {
		if n > 1 {
			out[k.level] = append(out[k.level], k.code)
		}
	}
	for l := range out {
		sort.Strings(out[l])
	}
	return out
}

// Map returns a new catalog whose units are transformed by fn. The receiver
// is left untouched, so each run can own an independent copy.
func (c *Catalog) Map(fn func(Unit) (Unit, error)) (*Catalog, error) {
	units := make([]Unit, 0, len(c.units))
	for _, u := range c.units {
		u.Attributes = cloneAttributes(u.Attributes)
		mapped, err := fn(u)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: map unit %s", u.Code)
		}
		units = append(units, mapped)
	}
	return New(units)
}

// Clone returns an independent copy of the catalog.
func (c *Catalog) Clone() *Catalog {
	out, err := c.Map(func(u Unit) (Unit, error) { return u, nil })
	if err != nil {
		// c was already validated by New.
		panic(err)
	}
	return out
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
