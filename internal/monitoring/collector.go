// Package monitoring aggregates job and provider health for the metrics CLI.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal       int     `json:"jobs_total"`
	JobsCompleted   int     `json:"jobs_completed"`
	JobsFailed      int     `json:"jobs_failed"`
	JobsTimeout     int     `json:"jobs_timeout"`
	JobsPending     int     `json:"jobs_pending"`
	JobsFailRate    float64 `json:"jobs_fail_rate"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	AvgQualityScore float64 `json:"avg_quality_score"`

	// Per-provider daily rows within the window.
	Providers []model.ProviderMetricsDaily `json:"providers"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	var totalQuality float64
	var scoredJobs int
	for _, j := range jobs {
		switch j.Status {
		case crawler.StatusCompleted:
			snap.JobsCompleted++
		case crawler.StatusFailed:
			snap.JobsFailed++
		case crawler.StatusTimeout:
			snap.JobsTimeout++
		default:
			snap.JobsPending++
		}
		snap.TotalCostUSD += j.Cost.EstimatedCostUSD
		if j.QualityScore > 0 {
			totalQuality += j.QualityScore
			scoredJobs++
		}
	}
	if snap.JobsTotal > 0 {
		snap.JobsFailRate = float64(snap.JobsFailed+snap.JobsTimeout) / float64(snap.JobsTotal)
	}
	if scoredJobs > 0 {
		snap.AvgQualityScore = totalQuality / float64(scoredJobs)
	}

	providers, err := c.store.ListProviderMetrics(ctx, cutoff.Truncate(24*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list provider metrics")
	}
	snap.Providers = providers

	return snap, nil
}
