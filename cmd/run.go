package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/pipeline"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

var (
	runDate     string
	runGeometry string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one day of indicator reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		day, err := parseDay(runDate, time.Now())
		if err != nil {
			return err
		}

		env, err := buildJob(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		variants, err := selectVariants(runGeometry, env.Geometries)
		if err != nil {
			return err
		}

		results, err := env.Job.RunVariants(ctx, day, variants, nil)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		formatResults(os.Stdout, results)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "day to reconcile as YYYY-MM-DD (default yesterday)")
	runCmd.Flags().StringVar(&runGeometry, "geometry", "", "single geometry variant: point or polygon (default from config)")
	rootCmd.AddCommand(runCmd)
}

// parseDay parses s as YYYY-MM-DD. An empty s selects the day before now.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.AddDate(0, 0, -1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(reconcile.DayLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return day, nil
}

// selectVariants narrows the configured variants to flag when it is set.
func selectVariants(flag string, configured []catalog.Geometry) ([]catalog.Geometry, error) {
	if flag == "" {
		return configured, nil
	}
	g, err := catalog.ParseGeometry(flag)
	if err != nil {
		return nil, err
	}
	return []catalog.Geometry{g}, nil
}

// formatResults writes one line per reconciled variant and day to out.
func formatResults(out io.Writer, results []*pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DAY\tGEOMETRY\tUNITS\tRECORDS\tFAILED\tTOTALS")
	_, _ = fmt.Fprintln(w, "---\t--------\t-----\t-------\t------\t------")

	for _, r := range results {
		if r == nil {
			continue
		}
		units := 0
		if r.Snapshot != nil {
			units = r.Snapshot.Len()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Key.Day(),
			r.Key.Geometry,
			units,
			r.Records,
			strings.Join(r.Failed, ","),
			formatTotals(r.Totals),
		)
	}
	_ = w.Flush()
}

// formatTotals renders totals as path=value pairs in path order.
func formatTotals(totals map[string]float64) string {
	paths := make([]string, 0, len(totals))
	for p := range totals {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf("%s=%g", p, totals[p]))
	}
	return strings.Join(parts, " ")
}
