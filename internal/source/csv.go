package source

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/covid-cli/internal/fetcher"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// CSVSource reads one dataset published as a delimited file holding every
// day and every population class. Rows are kept when DateColumn equals the
// report day and every Filters column has its expected value.
type CSVSource struct {
	ID         string            `yaml:"id" mapstructure:"id"`
	Disabled   bool              `yaml:"disabled" mapstructure:"disabled"`
	URL        string            `yaml:"url" mapstructure:"url"`
	Delimiter  string            `yaml:"delimiter" mapstructure:"delimiter"`
	DateColumn string            `yaml:"date_column" mapstructure:"date_column"`
	CodeColumn string            `yaml:"code_column" mapstructure:"code_column"`
	Filters    map[string]string `yaml:"filters" mapstructure:"filters"`
	Columns    map[string]string `yaml:"columns" mapstructure:"columns"` // column -> source field
}

// DefaultCSVSources returns the public health agency datasets, filtered on
// the all-ages or all-sexes class.
func DefaultCSVSources() []CSVSource {
	return []CSVSource{
		{
			ID:         "spf-donnees-hospitalieres",
			URL:        "https://www.data.gouv.fr/fr/datasets/r/63352e38-d353-4b54-bfd1-f1b3ee1cabd7",
			DateColumn: "jour",
			Filters:    map[string]string{"sexe": "0"},
			Columns: map[string]string{
				"hosp": "hospitalises",
				"rea":  "reanimation",
				"rad":  "gueris",
				"dc":   "deces",
			},
		},
		{
			ID:         "spf-donnees-urgences-sos-medecins",
			URL:        "https://www.data.gouv.fr/fr/datasets/r/eceb9fb4-3ebc-4da3-828d-f5939712600a",
			DateColumn: "date_de_passage",
			Filters:    map[string]string{"sursaud_cl_age_corona": "0"},
			Columns: map[string]string{
				"nbre_pass_corona":   "urgences",
				"nbre_hospit_corona": "urgencesHospitalises",
				"nbre_acte_corona":   "actes",
			},
		},
		{
			ID:         "spf-donnees-laboratoires",
			URL:        "https://www.data.gouv.fr/fr/datasets/r/b4ea7b4b-b7d1-4885-a099-71852291ff20",
			DateColumn: "jour",
			Filters:    map[string]string{"clage_covid": "0"},
			Columns: map[string]string{
				"nb_test": "testsLaboratoire",
				"nb_pos":  "casConfirmesLaboratoire",
			},
		},
		{
			ID:         "spf-donnees-tests-pcr",
			URL:        "https://www.data.gouv.fr/fr/datasets/r/406c6a23-e283-4300-9484-54e78c8ae675",
			DateColumn: "jour",
			Filters:    map[string]string{"cl_age90": "0"},
			Columns: map[string]string{
				"T": "testsPCR",
				"P": "casConfirmesPCR",
			},
		},
	}
}

// Name implements Source.
func (s *CSVSource) Name() string { return "csv/" + s.ID }

func (s *CSVSource) options() fetcher.CSVOptions {
	delim := ';'
	if s.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(s.Delimiter)
	}
	return fetcher.CSVOptions{Delimiter: delim, LazyQuotes: true, TrimSpace: true}
}

// Fetch implements Source.
func (s *CSVSource) Fetch(ctx context.Context, f fetcher.Fetcher, day time.Time) ([]reconcile.RawRecord, error) {
	if s.URL == "" {
		return nil, eris.Errorf("source: %s has no url", s.Name())
	}
	body, err := f.Download(ctx, s.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source: download %s", s.Name())
	}
	defer body.Close() //nolint:errcheck

	codeCol := s.CodeColumn
	if codeCol == "" {
		codeCol = "dep"
	}
	dayStr := day.Format(reconcile.DayLayout)

	var out []reconcile.RawRecord
	rows, errCh := fetcher.StreamCSVRecords(ctx, body, s.options())
	for row := range rows {
		if !s.keep(row, dayStr) {
			continue
		}
		code := strings.TrimSpace(cell(row, codeCol))
		if code == "" {
			continue
		}
		rec := reconcile.RawRecord{UnitCode: code, Date: day, Fields: make(map[string]float64, len(s.Columns))}
		for col, field := range s.Columns {
			if n, ok := parseNumber(cell(row, col)); ok {
				rec.Fields[field] = n
			}
		}
		out = append(out, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "source: parse %s", s.Name())
		}
	}
	return out, nil
}

func (s *CSVSource) keep(row map[string]string, day string) bool {
	if s.DateColumn != "" && cell(row, s.DateColumn) != day {
		return false
	}
	for col, want := range s.Filters {
		if cell(row, col) != want {
			return false
		}
	}
	return true
}

// cell looks a column up by exact header, then ignoring case.
func cell(row map[string]string, col string) string {
	if v, ok := row[col]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	return ""
}
