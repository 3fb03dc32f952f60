package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

var statusFlags struct {
	status string
	source string
	sinceH int
	limit  int
}

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show one job or list recent jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 1 {
			job, err := st.GetJob(ctx, args[0])
			if err != nil {
				if store.IsNotFound(err) {
					return eris.Errorf("job not found: %s", args[0])
				}
				return err
			}
			return enc.Encode(job)
		}

		filter := store.JobFilter{
			Status: crawler.JobStatus(statusFlags.status),
			Source: statusFlags.source,
			Limit:  statusFlags.limit,
		}
		if statusFlags.sinceH > 0 {
			filter.CreatedAfter = time.Now().UTC().Add(-time.Duration(statusFlags.sinceH) * time.Hour)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		return enc.Encode(jobs)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.status, "status", "", "filter by status")
	statusCmd.Flags().StringVar(&statusFlags.source, "source", "", "filter by source")
	statusCmd.Flags().IntVar(&statusFlags.sinceH, "since-hours", 0, "only jobs created within the window")
	statusCmd.Flags().IntVar(&statusFlags.limit, "limit", 50, "max rows")
	rootCmd.AddCommand(statusCmd)
}
