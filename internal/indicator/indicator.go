// Package indicator defines the epidemiological indicators tracked by the
// reconciliation engine and the running counters kept for them.
package indicator

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Kind distinguishes indicators that are already cumulative at the source
// from indicators that count a single day.
type Kind int

const (
	// Snapshot indicators carry a running total (e.g. confirmed cases).
	Snapshot Kind = iota + 1
	// Flow indicators carry a count for the report day only (e.g. admissions).
	Flow
)

// AccumulatedSuffix is appended to a Flow path to name its running sum.
const AccumulatedSuffix = "/Accumulated"

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case Snapshot:
		return "snapshot"
	case Flow:
		return "flow"
	default:
		return "unknown"
	}
}

// ParseKind converts "snapshot" or "flow" (case-insensitive) into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snapshot", "cumulative":
		return Snapshot, nil
	case "flow", "daily":
		return Flow, nil
	default:
		return 0, eris.Errorf("indicator: unknown kind %q (valid: snapshot, flow)", s)
	}
}

// Indicator is an immutable indicator definition.
type Indicator struct {
	SourceField string
	Path        string
	Kind        Kind
}

// IsFlow reports whether the indicator counts a single day.
func (i Indicator) IsFlow() bool { return i.Kind == Flow }

// AccumulatedPath returns the path of the derived running sum of a Flow
// indicator. It returns "" for Snapshot indicators.
func (i Indicator) AccumulatedPath() string {
	if i.Kind != Flow {
		return ""
	}
	return i.Path + AccumulatedSuffix
}

// Def is the configuration form of an indicator, with the kind as text.
type Def struct {
	SourceField string `yaml:"source_field" mapstructure:"source_field"`
	Path        string `yaml:"path" mapstructure:"path"`
	Kind        string `yaml:"kind" mapstructure:"kind"`
}

// Resolve converts a configuration definition into an Indicator.
func (d Def) Resolve() (Indicator, error) {
	kind, err := ParseKind(d.Kind)
	if err != nil {
		return Indicator{}, eris.Wrapf(err, "indicator: resolve %q", d.Path)
	}
	return Indicator{
		SourceField: strings.TrimSpace(d.SourceField),
		Path:        strings.TrimSpace(d.Path),
		Kind:        kind,
	}, nil
}
