package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/covid-cli/internal/fetcher"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// DefaultARSBaseURL hosts the daily regional health agency reports.
const DefaultARSBaseURL = "https://raw.githubusercontent.com/opencovid19-fr/data/master/agences-regionales-sante"

// ARSSections are the report sections read by default.
var ARSSections = []string{"donneesDepartementales", "donneesRegionales", "donneesNationales"}

// DefaultARSRegions lists the regional agencies that publish a daily report.
var DefaultARSRegions = []string{
	"auvergne-rhone-alpes",
	"bourgogne-franche-comte",
	"bretagne",
	"centre-val-de-loire",
	"corse",
	"grand-est",
	"hauts-de-france",
	"ile-de-france",
	"normandie",
	"nouvelle-aquitaine",
	"occitanie",
	"pays-de-la-loire",
	"provence-alpes-cote-dazur",
}

// ARSConfig configures the regional agency YAML reports.
type ARSConfig struct {
	Disabled bool     `yaml:"disabled" mapstructure:"disabled"`
	BaseURL  string   `yaml:"base_url" mapstructure:"base_url"`
	Regions  []string `yaml:"regions" mapstructure:"regions"`
	Sections []string `yaml:"sections" mapstructure:"sections"`
}

// Sources returns one source per configured region.
func (c ARSConfig) Sources() []Source {
	base := c.BaseURL
	if base == "" {
		base = DefaultARSBaseURL
	}
	regions := c.Regions
	if len(regions) == 0 {
		regions = DefaultARSRegions
	}
	out := make([]Source, 0, len(regions))
	for _, r := range regions {
		out = append(out, &ARSSource{BaseURL: base, Region: r, Sections: c.Sections})
	}
	return out
}

// ARSSource reads the YAML report of one regional agency.
type ARSSource struct {
	BaseURL  string
	Region   string
	Sections []string
}

// Name implements Source.
func (s *ARSSource) Name() string { return "ars/" + s.Region }

// URL returns the report location for day.
func (s *ARSSource) URL(day time.Time) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + s.Region + "/" + day.Format(reconcile.DayLayout) + ".yaml"
}

// Fetch implements Source.
func (s *ARSSource) Fetch(ctx context.Context, f fetcher.Fetcher, day time.Time) ([]reconcile.RawRecord, error) {
	body, err := f.Download(ctx, s.URL(day))
	if err != nil {
		return nil, eris.Wrapf(err, "source: download %s", s.Name())
	}
	defer body.Close() //nolint:errcheck

	recs, err := ParseARS(body, day, s.Sections...)
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", s.Name())
	}
	return recs, nil
}

// ParseARS decodes a regional agency report. A section holds either one entry
// or a list of entries; every entry needs a "code". Numeric fields become
// record fields, anything else is ignored.
func ParseARS(r io.Reader, day time.Time, sections ...string) ([]reconcile.RawRecord, error) {
	if len(sections) == 0 {
		sections = ARSSections
	}

	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "source: decode ARS YAML")
	}

	var out []reconcile.RawRecord
	for _, section := range sections {
		node, ok := doc[section]
		if !ok {
			continue
		}
		entries, err := sectionEntries(&node)
		if err != nil {
			return nil, eris.Wrapf(err, "source: section %s", section)
		}
		for _, e := range entries {
			code, _ := e["code"].(string)
			if strings.TrimSpace(code) == "" {
				continue
			}
			rec := reconcile.RawRecord{
				UnitCode: strings.TrimSpace(code),
				Date:     day,
				Fields:   make(map[string]float64),
			}
			for k, v := range e {
				if k == "code" {
					continue
				}
				if n, ok := parseNumber(v); ok {
					rec.Fields[k] = n
				}
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func sectionEntries(node *yaml.Node) ([]map[string]any, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []map[string]any
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var one map[string]any
		if err := node.Decode(&one); err != nil {
			return nil, err
		}
		return []map[string]any{one}, nil
	default:
		return nil, nil
	}
}
