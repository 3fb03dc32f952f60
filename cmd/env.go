package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/trendscope/evidence-cli/internal/cost"
	"github.com/trendscope/evidence-cli/internal/ingest"
	"github.com/trendscope/evidence-cli/internal/orchestrator"
	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// env bundles the wired pipeline components for a command invocation.
type env struct {
	Store        store.Store
	Costs        *cost.Calculator
	Ingestor     *ingest.Service
	Orchestrator *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "evidence.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rates := cost.DefaultRates()
	if cfg.Pricing.APICallUSD > 0 {
		rates.APICallUSD = cfg.Pricing.APICallUSD
	}
	if cfg.Pricing.ProxyCallUSD > 0 {
		rates.ProxyCallUSD = cfg.Pricing.ProxyCallUSD
	}
	for model, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	costs := cost.NewCalculator(rates)

	ingestor := ingest.NewService(st, costs, cfg.Crawler.CallbackSecret, cfg.Crawler.SkipVerifySignature)

	var client crawler.Client
	if cfg.Crawler.BaseURL != "" {
		client = crawler.NewClient(cfg.Crawler.BaseURL, cfg.Crawler.Token)
	}

	orch := orchestrator.New(orchestrator.Config{
		BaseURL:         cfg.Crawler.BaseURL,
		CallbackURL:     cfg.Crawler.CallbackURL,
		CallbackSecret:  cfg.Crawler.CallbackSecret,
		PollInterval:    time.Duration(cfg.Crawler.PollIntervalSecs) * time.Second,
		CallbackTimeout: time.Duration(cfg.Crawler.CallbackTimeoutSecs) * time.Second,
		FreshnessDays:   cfg.Crawler.FreshnessDays,
	}, client, st, ingestor, orchestrator.NewHTTPReplayer())

	return &env{Store: st, Costs: costs, Ingestor: ingestor, Orchestrator: orch}, nil
}
