package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/config"
)

// cfg is loaded once per invocation before any subcommand runs.
var cfg *config.Config

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "covid-cli",
	Short:         "Daily COVID-19 indicator reconciliation",
	Long:          "Collects daily indicator reports for French departements, regions and the nation, reconciles them against the previous day and publishes GeoJSON snapshots.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		zap.L().Debug("config loaded", zap.String("command", cmd.CommandPath()))
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "covid-cli:", err)
		os.Exit(1)
	}
}
