package main

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trendscope/evidence-cli/internal/orchestrator"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

var batchFlags struct {
	file        string
	mode        string
	source      string
	xiaohongshu bool
	douyin      bool
	waitSecs    int
	concurrency int
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run crawl jobs for every query in a file",
	Long:  "Reads one query per line, dispatches and waits for each crawl with bounded concurrency, and prints a JSON result per line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		queries, err := readQueries(batchFlags.file)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			return eris.New("no queries in input file")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchFlags.concurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentJobs
		}

		type lineResult struct {
			Query      string `json:"query"`
			JobID      string `json:"job_id,omitempty"`
			Status     string `json:"status,omitempty"`
			Skipped    bool   `json:"skipped,omitempty"`
			Diagnostic string `json:"diagnostic,omitempty"`
			Error      string `json:"error,omitempty"`
		}
		results := make([]lineResult, len(queries))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i, q := range queries {
			g.Go(func() error {
				res, err := env.Orchestrator.Route(gctx, orchestrator.DispatchRequest{
					ValidationID: "batch-" + time.Now().UTC().Format("20060102"),
					CallerID:     "batch",
					Source:       batchFlags.source,
					Query:        q,
					Mode:         crawler.Mode(batchFlags.mode),
					Xiaohongshu:  batchFlags.xiaohongshu,
					Douyin:       batchFlags.douyin,
				}, time.Duration(batchFlags.waitSecs)*time.Second)

				lr := lineResult{Query: q}
				switch {
				case err != nil:
					lr.Error = err.Error()
					zap.L().Error("batch crawl failed", zap.String("query", q), zap.Error(err))
				case res.Skipped:
					lr.Skipped = true
					lr.Diagnostic = res.Diagnostic
				default:
					lr.JobID = res.Job.ID
					lr.Status = string(res.Job.Status)
					lr.Diagnostic = res.Diagnostic
				}
				results[i] = lr
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, lr := range results {
			if err := enc.Encode(lr); err != nil {
				return err
			}
		}
		return nil
	},
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open queries file")
	}
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	return queries, sc.Err()
}

func init() {
	batchCmd.Flags().StringVar(&batchFlags.file, "file", "", "file with one query per line (required)")
	batchCmd.Flags().StringVar(&batchFlags.mode, "mode", "quick", "crawl mode: quick or deep")
	batchCmd.Flags().StringVar(&batchFlags.source, "source", "batch", "originating surface")
	batchCmd.Flags().BoolVar(&batchFlags.xiaohongshu, "xiaohongshu", true, "enable xiaohongshu")
	batchCmd.Flags().BoolVar(&batchFlags.douyin, "douyin", false, "enable douyin")
	batchCmd.Flags().IntVar(&batchFlags.waitSecs, "wait-secs", 300, "per-job wait before self-heal")
	batchCmd.Flags().IntVar(&batchFlags.concurrency, "concurrency", 0, "max in-flight jobs (default from config)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
