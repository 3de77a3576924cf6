package indicator

import (
	"go.uber.org/zap"
)

// Contribution identifies one unit's share of a running total. Day is empty
// for running totals (Snapshot values and Flow accumulations) and set to the
// report day for Flow daily values.
type Contribution struct {
	Unit string
	Day  string
	Path string
}

// Counters keeps one running total per indicator path and per Flow
// accumulated path. Totals only grow: each contribution is lifted, never
// lowered, and only the lift is added to its path total.
//
// A Counters value is not safe for concurrent use; give every run its own.
type Counters struct {
	paths         []string
	totals        map[string]float64
	contributions map[Contribution]float64
}

// NewCounters returns counters initialized to zero for every path of reg.
func NewCounters(reg *Registry) *Counters {
	paths := reg.CounterPaths()
	c := &Counters{
		paths:         paths,
		totals:        make(map[string]float64, len(paths)),
		contributions: make(map[Contribution]float64),
	}
	for _, p := range paths {
		c.totals[p] = 0
	}
	return c
}

// Raise lifts the contribution identified by key to value and returns the
// amount added to the path total. Unknown paths and values that do not exceed
// the recorded contribution add nothing.
func (c *Counters) Raise(key Contribution, value float64) float64 {
	if c == nil || value <= 0 {
		return 0
	}
	if _, ok := c.totals[key.Path]; !ok {
		return 0
	}
	prev := c.contributions[key]
	if value <= prev {
		return 0
	}
	c.contributions[key] = value
	delta := value - prev
	c.totals[key.Path] += delta
	return delta
}

// Get returns the running total for path.
func (c *Counters) Get(path string) float64 {
	if c == nil {
		return 0
	}
	return c.totals[path]
}

// Paths returns the tracked paths in registry order.
func (c *Counters) Paths() []string {
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}

// Totals returns a copy of every running total.
func (c *Counters) Totals() map[string]float64 {
	out := make(map[string]float64, len(c.totals))
	for k, v := range c.totals {
		out[k] = v
	}
	return out
}

// Fields renders the totals as zap fields in registry order.
func (c *Counters) Fields() []zap.Field {
	fields := make([]zap.Field, 0, len(c.paths))
	for _, p := range c.paths {
		fields = append(fields, zap.Float64(p, c.totals[p]))
	}
	return fields
}
