// Package store persists crawl jobs, evidence samples, and provider metrics.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// JobFilter specifies criteria for listing crawl jobs.
type JobFilter struct {
	Status       crawler.JobStatus `json:"status,omitempty"`
	Source       string            `json:"source,omitempty"`
	CreatedAfter time.Time         `json:"created_after,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// ResultUpdate carries the terminal fields written onto a job row when a
// crawler result arrives.
type ResultUpdate struct {
	Status       crawler.JobStatus
	Result       *crawler.ResultPayload
	QualityScore float64
	Cost         crawler.CostBlock
	Error        string
}

// Store defines the persistence interface for the evidence pipeline.
//
// ApplyJobResult and FailJobIfPending exist in two strengths on purpose: the
// callback path is authoritative and overwrites unconditionally, while the
// self-heal path must never clobber a terminal row, so its writes are gated
// on the job still being in a non-terminal status.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, req crawler.RequestPayload) (*model.CrawlJob, error)
	MarkJobDispatched(ctx context.Context, jobID, externalJobID string) error
	MarkJobFailed(ctx context.Context, jobID, errText string) error
	FailJobIfPending(ctx context.Context, jobID string, status crawler.JobStatus, errText string) (bool, error)
	ApplyJobResult(ctx context.Context, jobID string, upd ResultUpdate, onlyIfPending bool) (bool, error)
	GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error)

	// Evidence
	UpsertSamples(ctx context.Context, samples []model.EvidenceSample) (int, error)
	UpsertSignals(ctx context.Context, signals []model.RawSignal) (int, error)

	// Provider metrics
	BumpProviderMetrics(ctx context.Context, day time.Time, provider string, success bool, costUSD, quality float64, latencyMs int) error
	ListProviderMetrics(ctx context.Context, since time.Time) ([]model.ProviderMetricsDaily, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err is the row-absent condition of either
// backing driver.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
