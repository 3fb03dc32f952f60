package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "evidence-cli",
	Short: "Social evidence acquisition pipeline",
	Long:  "Dispatches crawl jobs to the social crawler, ingests signed result callbacks, budgets the evidence, and summarizes trends via Claude.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
