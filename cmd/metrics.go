package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/trendscope/evidence-cli/internal/monitoring"
)

var metricsLookbackHours int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print pipeline and provider health metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st).Collect(ctx, metricsLookbackHours)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsLookbackHours, "lookback-hours", 24, "metrics window")
	rootCmd.AddCommand(metricsCmd)
}
