package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backfillStart    string
	backfillEnd      string
	backfillGeometry string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Reconcile a range of days in order",
	Long:  "Reconciles every day from --start to --end inclusive. Each day builds on the snapshot saved for the day before, so days run one after another.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if backfillStart == "" {
			return eris.New("backfill: --start is required")
		}
		start, err := parseDay(backfillStart, time.Now())
		if err != nil {
			return err
		}
		end, err := parseDay(backfillEnd, time.Now())
		if err != nil {
			return err
		}

		env, err := buildJob(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		variants, err := selectVariants(backfillGeometry, env.Geometries)
		if err != nil {
			return err
		}

		results, err := env.Job.Backfill(ctx, start, end, variants)
		formatResults(os.Stdout, results)
		if err != nil {
			return err
		}

		zap.L().Info("backfill complete", zap.Int("runs", len(results)))
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "first day as YYYY-MM-DD")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "last day as YYYY-MM-DD (default yesterday)")
	backfillCmd.Flags().StringVar(&backfillGeometry, "geometry", "", "single geometry variant: point or polygon (default from config)")
	rootCmd.AddCommand(backfillCmd)
}
