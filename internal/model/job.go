// Package model holds the persistent and derived data shapes of the evidence
// pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// CrawlJob is one request to the external crawler, as stored in crawler_jobs.
type CrawlJob struct {
	ID            string                 `json:"id"`
	ExternalJobID string                 `json:"external_job_id,omitempty"`
	TraceID       string                 `json:"trace_id"`
	Source        string                 `json:"source"`
	Platforms     []crawler.Platform     `json:"platforms"`
	Query         string                 `json:"query"`
	Status        crawler.JobStatus      `json:"status"`
	Request       crawler.RequestPayload `json:"request"`
	Result        *crawler.ResultPayload `json:"result,omitempty"`
	QualityScore  float64                `json:"quality_score"`
	Cost          crawler.CostBlock      `json:"cost"`
	Error         string                 `json:"error,omitempty"`
	Attempt       int                    `json:"attempt"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// SampleType distinguishes flattened evidence rows.
type SampleType string

const (
	SampleTypeNote    SampleType = "note"
	SampleTypeComment SampleType = "comment"
)

// EvidenceSample is a flattened, content-hashed record of one note or comment.
type EvidenceSample struct {
	JobID       string            `json:"job_id"`
	Platform    crawler.Platform  `json:"platform"`
	Type        SampleType        `json:"sample_type"`
	ContentHash string            `json:"content_hash"`
	Content     string            `json:"content"`
	Engagement  Engagement        `json:"engagement"`
	PublishedAt string            `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Engagement holds the numeric interaction counts of a sample. Missing fields
// default to zero.
type Engagement struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments,omitempty"`
	Collects int `json:"collects,omitempty"`
	Shares   int `json:"shares,omitempty"`
}

// RawSignal is the denormalized cross-job representation of a sample for
// downstream consumers. Its hash excludes the job id so replays of the same
// content across jobs collapse to one row.
type RawSignal struct {
	SignalHash  string           `json:"signal_hash"`
	Platform    crawler.Platform `json:"platform"`
	Type        SampleType       `json:"sample_type"`
	Content     string           `json:"content"`
	Engagement  Engagement       `json:"engagement"`
	PublishedAt string           `json:"published_at,omitempty"`
}

// ProviderMetricsDaily aggregates one (day, provider) pair as a running mean,
// updated incrementally as job results are ingested.
type ProviderMetricsDaily struct {
	Day          time.Time `json:"day"`
	Provider     string    `json:"provider"`
	TotalJobs    int       `json:"total_jobs"`
	SuccessRate  float64   `json:"success_rate"`
	AvgCostUSD   float64   `json:"avg_cost_usd"`
	AvgQuality   float64   `json:"avg_quality"`
	P95LatencyMs int       `json:"p95_latency_ms"`
}

// hashPrefixLen bounds how much content participates in identity hashes.
const hashPrefixLen = 120

// ContentHash returns the idempotency key for a sample within one job:
// a deterministic fingerprint of job id, type, platform, external id, and the
// first 120 characters of content.
func ContentHash(jobID string, typ SampleType, platform crawler.Platform, externalID, content string) string {
	return shortHash(jobID + "|" + string(typ) + "|" + string(platform) + "|" + externalID + "|" + prefix(content, hashPrefixLen))
}

// SignalHash returns the cross-job-stable fingerprint of a sample.
func SignalHash(typ SampleType, platform crawler.Platform, externalID, content string) string {
	return shortHash(string(typ) + "|" + string(platform) + "|" + externalID + "|" + prefix(content, hashPrefixLen))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
