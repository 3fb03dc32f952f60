package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/orchestrator"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

var dispatchFlags struct {
	query         string
	mode          string
	source        string
	callerID      string
	validationID  string
	xiaohongshu   bool
	douyin        bool
	freshnessDays int
	timeoutMs     int
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Start a crawl job without waiting for its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Dispatch(ctx, dispatchRequest())
		if err != nil {
			return err
		}
		if res == nil {
			zap.L().Info("crawl skipped", zap.String("reason", orchestrator.ErrServiceDisabled))
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"skipped": true})
		}
		if !res.Dispatched {
			return res.Err
		}

		return json.NewEncoder(os.Stdout).Encode(map[string]string{
			"job_id":          res.JobID,
			"external_job_id": res.ExternalJobID,
		})
	},
}

func dispatchRequest() orchestrator.DispatchRequest {
	validationID := dispatchFlags.validationID
	if validationID == "" {
		validationID = uuid.New().String()
	}
	return orchestrator.DispatchRequest{
		ValidationID:  validationID,
		CallerID:      dispatchFlags.callerID,
		Source:        dispatchFlags.source,
		Query:         dispatchFlags.query,
		Mode:          crawler.Mode(dispatchFlags.mode),
		Xiaohongshu:   dispatchFlags.xiaohongshu,
		Douyin:        dispatchFlags.douyin,
		FreshnessDays: dispatchFlags.freshnessDays,
		TimeoutMs:     dispatchFlags.timeoutMs,
	}
}

func registerDispatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dispatchFlags.query, "query", "", "search query (required)")
	cmd.Flags().StringVar(&dispatchFlags.mode, "mode", "quick", "crawl mode: quick or deep")
	cmd.Flags().StringVar(&dispatchFlags.source, "source", "cli", "originating surface")
	cmd.Flags().StringVar(&dispatchFlags.callerID, "caller", "", "caller id for trace derivation")
	cmd.Flags().StringVar(&dispatchFlags.validationID, "validation-id", "", "correlation id (default: random)")
	cmd.Flags().BoolVar(&dispatchFlags.xiaohongshu, "xiaohongshu", true, "enable xiaohongshu")
	cmd.Flags().BoolVar(&dispatchFlags.douyin, "douyin", false, "enable douyin")
	cmd.Flags().IntVar(&dispatchFlags.freshnessDays, "freshness-days", 0, "freshness window override")
	cmd.Flags().IntVar(&dispatchFlags.timeoutMs, "timeout-ms", 0, "crawler-side timeout override")
	_ = cmd.MarkFlagRequired("query")
}

func init() {
	registerDispatchFlags(dispatchCmd)
	rootCmd.AddCommand(dispatchCmd)
}
