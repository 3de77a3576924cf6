package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/covid-cli/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Load the unit catalog and print a per-level summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return eris.Wrap(err, "catalog")
		}
		formatCatalog(os.Stdout, cat)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

// formatCatalog writes unit counts, geometry coverage and duplicate names
// per level to out.
func formatCatalog(out io.Writer, cat *catalog.Catalog) {
	dups := cat.DuplicateNames()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEVEL\tUNITS\tWITH_GEOMETRY\tORPHANS\tDUPLICATE_NAMES")
	_, _ = fmt.Fprintln(w, "-----\t-----\t-------------\t-------\t---------------")
	for _, level := range cat.Levels() {
		units := cat.Level(level)
		var withGeom, orphans int
		for _, u := range units {
			if u.Geometry != nil {
				withGeom++
			}
			if _, ok := cat.Parent(u); !ok && level != catalog.Root {
				orphans++
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", level, len(units), withGeom, orphans, len(dups[level]))
	}
	_ = w.Flush()
}
