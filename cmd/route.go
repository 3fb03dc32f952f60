package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/analyze"
	"github.com/trendscope/evidence-cli/internal/budget"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

var routeFlags struct {
	waitSecs int
	analyze  bool
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Dispatch a crawl, wait for the result, and budget the evidence",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Route(ctx, dispatchRequest(), time.Duration(routeFlags.waitSecs)*time.Second)
		if err != nil {
			return err
		}
		if res.Skipped {
			zap.L().Info("crawl skipped", zap.String("reason", res.Diagnostic))
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"skipped": true, "reason": res.Diagnostic})
		}

		out := map[string]any{
			"job_id": res.Job.ID,
			"status": res.Job.Status,
		}
		if res.Diagnostic != "" {
			out["diagnostic"] = res.Diagnostic
		}

		// Budget whatever evidence exists, even on partial failure.
		social := collectEvidence(res.Job.Result)
		budgeted := budget.Apply(social, nil, crawler.Mode(dispatchFlags.mode), time.Now().UTC())
		out["evidence"] = budgeted

		if routeFlags.analyze && cfg.Anthropic.Key != "" {
			analyzer := analyze.NewAnalyzer(
				analyze.NewClient(cfg.Anthropic.Key), env.Costs,
				cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens))
			summary, callCost, err := analyzer.Analyze(ctx, dispatchFlags.query, budgeted)
			if err != nil {
				zap.L().Warn("analysis failed", zap.Error(err))
			} else {
				out["summary"] = summary
				out["analysis_cost_usd"] = callCost
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// collectEvidence gathers notes and comments across every successful
// platform result. A nil payload yields empty evidence, not an error.
func collectEvidence(payload *crawler.ResultPayload) model.SocialEvidence {
	var ev model.SocialEvidence
	if payload == nil {
		return ev
	}
	for _, pr := range payload.PlatformResults {
		if !pr.Success {
			continue
		}
		ev.Notes = append(ev.Notes, pr.Notes...)
		ev.Comments = append(ev.Comments, pr.Comments...)
	}
	return ev
}

func init() {
	registerDispatchFlags(routeCmd)
	routeCmd.Flags().IntVar(&routeFlags.waitSecs, "wait-secs", 300, "how long to wait for the callback before self-heal")
	routeCmd.Flags().BoolVar(&routeFlags.analyze, "analyze", false, "summarize the budgeted evidence with Claude")
	rootCmd.AddCommand(routeCmd)
}
