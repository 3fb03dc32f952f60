// Package orchestrator dispatches crawl jobs to the external service, waits
// for their results, and self-heals when the completion callback is lost.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/ingest"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/internal/resilience"
	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// Diagnostic error strings recorded on job rows. Stable: downstream
// dashboards match on them.
const (
	ErrServiceDisabled        = "crawler_service_disabled"
	ErrCallbackTimeout        = "crawler_callback_timeout"
	ErrTerminalWithoutPayload = "crawler_terminal_without_payload"
)

// Config holds the orchestrator's crawler-facing settings. An empty BaseURL
// disables dispatch.
type Config struct {
	BaseURL         string
	CallbackURL     string
	CallbackSecret  string
	PollInterval    time.Duration
	CallbackTimeout time.Duration
	FreshnessDays   int
}

// Replayer re-delivers a signed result payload to this system's own callback
// endpoint, exactly as the crawler would have.
type Replayer interface {
	Replay(ctx context.Context, callbackURL, secret string, payload *crawler.ResultPayload) error
}

// Orchestrator coordinates dispatch, poll, and self-heal for crawl jobs.
type Orchestrator struct {
	cfg      Config
	client   crawler.Client
	store    store.Store
	ingestor *ingest.Service
	replayer Replayer
}

// New creates an orchestrator. client may be nil when cfg.BaseURL is empty.
func New(cfg Config, client crawler.Client, st store.Store, ing *ingest.Service, rp Replayer) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 5 * time.Minute
	}
	return &Orchestrator{cfg: cfg, client: client, store: st, ingestor: ing, replayer: rp}
}

// Enabled reports whether dispatch is configured.
func (o *Orchestrator) Enabled() bool {
	return o.cfg.BaseURL != "" && o.client != nil
}

// DispatchRequest describes one crawl to start.
type DispatchRequest struct {
	ValidationID string
	CallerID     string
	Source       string
	Query        string
	Mode         crawler.Mode
	Xiaohongshu  bool
	Douyin       bool
	// Optional overrides; zero means use the configured defaults.
	FreshnessDays int
	TimeoutMs     int
}

// DispatchResult reports the outcome of one dispatch attempt. JobID is set
// whenever a row was created, even on failure, so callers can inspect it.
type DispatchResult struct {
	JobID         string
	ExternalJobID string
	Dispatched    bool
	Err           error
}

// Dispatch creates a job row and posts it to the crawler service. Returns
// nil (not an error) when the service is disabled or no platform is enabled,
// so callers can skip crawling and proceed.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	platforms := crawler.NormalizePlatforms(req.Xiaohongshu, req.Douyin)
	if !o.Enabled() || len(platforms) == 0 {
		return nil, nil
	}

	freshness := req.FreshnessDays
	if freshness <= 0 {
		freshness = o.cfg.FreshnessDays
	}

	payload := crawler.RequestPayload{
		ValidationID:  req.ValidationID,
		CallerID:      req.CallerID,
		TraceID:       traceID(req.ValidationID, req.CallerID),
		Source:        req.Source,
		Platforms:     platforms,
		Query:         req.Query,
		Mode:          req.Mode,
		Limits:        crawler.BuildLimits(req.Mode),
		FreshnessDays: freshness,
		TimeoutMs:     req.TimeoutMs,
	}

	job, err := o.store.CreateJob(ctx, payload)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}

	resp, err := o.client.StartJob(ctx, crawler.StartJobRequest{
		JobID:          job.ID,
		CallbackURL:    o.cfg.CallbackURL,
		CallbackSecret: o.cfg.CallbackSecret,
		Payload:        payload,
	})
	if err != nil {
		errText := crawler.Truncate(err.Error(), 500)
		if markErr := o.store.MarkJobFailed(ctx, job.ID, errText); markErr != nil {
			zap.L().Error("failed to mark job failed after dispatch error",
				zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return &DispatchResult{JobID: job.ID, Err: eris.Wrap(err, "orchestrator: dispatch")}, nil
	}

	externalID := resp.JobID
	if externalID == "" {
		externalID = job.ID
	}
	if err := o.store.MarkJobDispatched(ctx, job.ID, externalID); err != nil {
		return nil, eris.Wrap(err, "orchestrator: mark dispatched")
	}

	zap.L().Info("crawl job dispatched",
		zap.String("job_id", job.ID),
		zap.String("external_job_id", externalID),
		zap.String("trace_id", payload.TraceID),
		zap.Int("platforms", len(platforms)))

	return &DispatchResult{JobID: job.ID, ExternalJobID: externalID, Dispatched: true}, nil
}

// Poll waits for jobID to reach a terminal status, re-reading the row every
// poll interval. When timeout elapses without a terminal status the lost
// callback is recovered via self-heal. The wait is cooperative and honors
// ctx cancellation.
func (o *Orchestrator) Poll(ctx context.Context, jobID string, timeout time.Duration) (*model.CrawlJob, error) {
	if timeout <= 0 {
		timeout = o.cfg.CallbackTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: poll read")
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return o.selfHeal(ctx, jobID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// selfHeal recovers a job whose callback never arrived. It fetches a
// snapshot directly from the crawler and either replays the callback, writes
// the result through the trusted internal path, or marks the job failed.
// Every job-row write here is guarded: a callback landing concurrently wins.
func (o *Orchestrator) selfHeal(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	// Writes must complete even when the caller has already given up, or the
	// row stays non-terminal forever.
	writeCtx := context.WithoutCancel(ctx)

	zap.L().Warn("poll timeout, attempting self-heal", zap.String("job_id", jobID))

	snapshotCtx, cancel := context.WithTimeout(writeCtx, 15*time.Second)
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.InitialBackoff = time.Second
	retryCfg.ShouldRetry = func(err error) bool {
		var apiErr *crawler.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	}
	snap, err := resilience.DoVal(snapshotCtx, retryCfg, func(ctx context.Context) (*crawler.JobSnapshot, error) {
		return o.client.GetJob(ctx, jobID)
	})

	switch {
	case err != nil || !snap.Status.IsTerminal():
		// Service unreachable or genuinely still running. Give up, but only
		// if nothing terminal landed in the meantime.
		if _, failErr := o.store.FailJobIfPending(writeCtx, jobID, crawler.StatusTimeout, ErrCallbackTimeout); failErr != nil {
			return nil, eris.Wrap(failErr, "orchestrator: self-heal timeout write")
		}

	case snap.Payload != nil:
		o.recoverResult(writeCtx, jobID, snap.Payload)

	default:
		// Terminal on the crawler's side but nothing to ingest.
		diag := snap.Error
		if diag == "" {
			diag = ErrTerminalWithoutPayload
		}
		if _, failErr := o.store.FailJobIfPending(writeCtx, jobID, crawler.StatusFailed, crawler.Truncate(diag, 500)); failErr != nil {
			return nil, eris.Wrap(failErr, "orchestrator: self-heal failed write")
		}
	}

	job, err := o.store.GetJob(writeCtx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: self-heal re-read")
	}
	return job, nil
}

// recoverResult replays a recovered payload against our own callback
// endpoint so the result takes the same ingestion path it would have taken
// normally. Exactly one replay attempt; on failure the payload is applied
// directly through the guarded internal path.
func (o *Orchestrator) recoverResult(ctx context.Context, jobID string, payload *crawler.ResultPayload) {
	if o.replayer != nil && o.cfg.CallbackURL != "" {
		replayCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := o.replayer.Replay(replayCtx, o.cfg.CallbackURL, o.cfg.CallbackSecret, payload)
		cancel()
		if err == nil {
			zap.L().Info("self-heal callback replay succeeded", zap.String("job_id", jobID))
			return
		}
		zap.L().Warn("self-heal callback replay failed, applying directly",
			zap.String("job_id", jobID), zap.Error(err))
	}

	if err := o.ingestor.Apply(ctx, payload, true); err != nil {
		zap.L().Error("self-heal direct apply failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// RouteResult is the outcome of a full dispatch-and-wait cycle.
type RouteResult struct {
	Job     *model.CrawlJob
	Skipped bool
	// Diagnostic is a short failure summary when the job did not complete.
	Diagnostic string
}

// Route composes Dispatch and Poll. A disabled service or empty platform set
// short-circuits with a skipped result; a dispatch failure surfaces the
// dispatch error and never polls.
func (o *Orchestrator) Route(ctx context.Context, req DispatchRequest, timeout time.Duration) (*RouteResult, error) {
	res, err := o.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &RouteResult{Skipped: true, Diagnostic: ErrServiceDisabled}, nil
	}
	if !res.Dispatched {
		return nil, res.Err
	}

	job, err := o.Poll(ctx, res.JobID, timeout)
	if err != nil {
		return nil, err
	}

	out := &RouteResult{Job: job}
	if job.Status != crawler.StatusCompleted {
		out.Diagnostic = crawler.FailureDetail(job.Result)
		if out.Diagnostic == "" {
			out.Diagnostic = job.Error
		}
	}
	return out, nil
}

// traceID derives a short stable id tying a job to its correlation and
// caller for cross-service log joins.
func traceID(validationID, callerID string) string {
	seed := fmt.Sprintf("crawl|%s|%s|%d", validationID, callerID, time.Now().UnixNano())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}
