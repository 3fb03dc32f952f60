// Package crawler defines the wire contract shared with the external social
// crawl service and a client for its internal job API.
package crawler

// Platform identifies a social platform the crawl service can sample.
type Platform string

const (
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformDouyin      Platform = "douyin"
)

// Mode selects the crawl/budget operating profile.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusDispatched JobStatus = "dispatched"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	StatusTimeout    JobStatus = "timeout"
)

// IsTerminal reports whether no further transition is expected from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Limits bounds how much content the crawler gathers per job.
type Limits struct {
	Notes           int `json:"notes"`
	CommentsPerNote int `json:"comments_per_note"`
}

// RequestPayload is the immutable snapshot of what was sent to the crawler.
type RequestPayload struct {
	ValidationID  string     `json:"validation_id"`
	CallerID      string     `json:"caller_id"`
	TraceID       string     `json:"trace_id"`
	Source        string     `json:"source"`
	Platforms     []Platform `json:"platforms"`
	Query         string     `json:"query"`
	Mode          Mode       `json:"mode"`
	Limits        Limits     `json:"limits"`
	FreshnessDays int        `json:"freshness_days,omitempty"`
	TimeoutMs     int        `json:"timeout_ms,omitempty"`
}

// RawNote is one social post as returned by the crawler.
type RawNote struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Author      string `json:"author,omitempty"`
	URL         string `json:"url,omitempty"`
	Likes       int    `json:"likes"`
	Comments    int    `json:"comments"`
	Collects    int    `json:"collects"`
	Shares      int    `json:"shares"`
	PublishedAt string `json:"published_at,omitempty"`
}

// RawComment is one comment on a note as returned by the crawler.
type RawComment struct {
	ID          string `json:"id"`
	NoteID      string `json:"note_id"`
	Content     string `json:"content"`
	Likes       int    `json:"likes"`
	PublishedAt string `json:"published_at,omitempty"`
}

// PlatformResult carries one platform's slice of a crawl result.
type PlatformResult struct {
	Platform  Platform     `json:"platform"`
	Success   bool         `json:"success"`
	Notes     []RawNote    `json:"notes,omitempty"`
	Comments  []RawComment `json:"comments,omitempty"`
	LatencyMs int          `json:"latency_ms,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// QualityBlock summarizes crawler-reported sample quality.
type QualityBlock struct {
	SampleCount    int     `json:"sample_count"`
	CommentCount   int     `json:"comment_count"`
	FreshnessScore float64 `json:"freshness_score"` // 0-100
	DuplicateRatio float64 `json:"duplicate_ratio"`
}

// CostBlock summarizes crawler-reported spend for a job.
type CostBlock struct {
	APICalls         int     `json:"api_calls"`
	ProxyCalls       int     `json:"proxy_calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// ResultPayload is the normalized shape the crawler returns, either via the
// signed callback or via a direct job snapshot. Treat as immutable once
// received.
type ResultPayload struct {
	JobID           string           `json:"job_id"`
	Status          JobStatus        `json:"status"`
	PlatformResults []PlatformResult `json:"platform_results"`
	Quality         QualityBlock     `json:"quality"`
	Cost            CostBlock        `json:"cost"`
	Errors          []string         `json:"errors,omitempty"`
}
