// Package ingest persists crawler results arriving via the signed callback
// or the orchestrator's self-heal replay.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/cost"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// Service applies crawler result payloads to the store.
type Service struct {
	store      store.Store
	costs      *cost.Calculator
	secret     string
	skipVerify bool
}

// NewService creates an ingest service. skipVerify disables signature
// checking and exists for local testing only.
func NewService(st store.Store, costs *cost.Calculator, secret string, skipVerify bool) *Service {
	return &Service{store: st, costs: costs, secret: secret, skipVerify: skipVerify}
}

// VerifySignature checks sig against the raw callback body. Always true when
// verification is disabled.
func (s *Service) VerifySignature(body []byte, sig string) bool {
	if s.skipVerify {
		return true
	}
	return crawler.Verify(s.secret, body, sig)
}

// ParsePayload decodes a callback body, unwrapping an optional envelope
// under a "payload" key.
func ParsePayload(body []byte) (*crawler.ResultPayload, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Payload) > 0 {
		body = envelope.Payload
	}

	var payload crawler.ResultPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "ingest: decode payload")
	}
	if payload.JobID == "" {
		return nil, eris.New("ingest: payload missing job_id")
	}
	return &payload, nil
}

// Apply writes a result payload onto its job row and flattens the platform
// results into evidence samples and signals.
//
// When guarded is true the job update is conditional on the row still being
// non-terminal, which is how the self-heal path avoids clobbering a callback
// that landed first. The callback path applies unguarded: it is
// authoritative. Sample ingestion is idempotent by content hash in both
// cases, so replays are safe.
func (s *Service) Apply(ctx context.Context, payload *crawler.ResultPayload, guarded bool) error {
	if payload == nil {
		return eris.New("ingest: nil payload")
	}

	status := payload.Status
	if !status.IsTerminal() {
		status = crawler.StatusFailed
	}

	upd := store.ResultUpdate{
		Status:       status,
		Result:       payload,
		QualityScore: payload.Quality.FreshnessScore,
		Cost:         payload.Cost,
		Error:        crawler.FailureDetail(payload),
	}
	if upd.Cost.EstimatedCostUSD == 0 && (upd.Cost.APICalls > 0 || upd.Cost.ProxyCalls > 0) {
		upd.Cost.EstimatedCostUSD = s.costs.Crawl(upd.Cost.APICalls, upd.Cost.ProxyCalls)
	}

	updated, err := s.store.ApplyJobResult(ctx, payload.JobID, upd, guarded)
	if err != nil {
		return eris.Wrap(err, "ingest: apply job result")
	}
	if guarded && !updated {
		// A terminal write beat us to the row. Its samples are already in.
		zap.L().Debug("skipping guarded ingest, job already terminal",
			zap.String("job_id", payload.JobID))
		return nil
	}

	// Only completed jobs yield evidence. A failed payload can still carry
	// partial notes from the crawl attempt; those are not kept.
	if status == crawler.StatusCompleted {
		samples, signals := Flatten(payload)
		if len(samples) > 0 {
			inserted, err := s.store.UpsertSamples(ctx, samples)
			if err != nil {
				return eris.Wrap(err, "ingest: upsert samples")
			}
			zap.L().Info("ingested evidence samples",
				zap.String("job_id", payload.JobID),
				zap.Int("samples", len(samples)),
				zap.Int("inserted", inserted))
		}
		if len(signals) > 0 {
			if _, err := s.store.UpsertSignals(ctx, signals); err != nil {
				return eris.Wrap(err, "ingest: upsert signals")
			}
		}
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	perPlatformCost := 0.0
	if n := len(payload.PlatformResults); n > 0 {
		perPlatformCost = upd.Cost.EstimatedCostUSD / float64(n)
	}
	for _, pr := range payload.PlatformResults {
		err := s.store.BumpProviderMetrics(ctx, day, string(pr.Platform), pr.Success,
			perPlatformCost, payload.Quality.FreshnessScore, pr.LatencyMs)
		if err != nil {
			// Metrics are advisory. Never fail ingestion over them.
			zap.L().Warn("provider metrics update failed",
				zap.String("provider", string(pr.Platform)), zap.Error(err))
		}
	}

	return nil
}

// Flatten turns a result payload's platform results into content-hashed
// samples and cross-job signals. Notes carry title and body joined by a
// newline; comments carry the bare body.
func Flatten(payload *crawler.ResultPayload) ([]model.EvidenceSample, []model.RawSignal) {
	var samples []model.EvidenceSample
	var signals []model.RawSignal

	for _, pr := range payload.PlatformResults {
		for _, n := range pr.Notes {
			content := n.Content
			if n.Title != "" {
				content = n.Title + "\n" + n.Content
			}
			eng := model.Engagement{Likes: n.Likes, Comments: n.Comments, Collects: n.Collects, Shares: n.Shares}
			meta := map[string]string{}
			if n.Author != "" {
				meta["author"] = n.Author
			}
			if n.URL != "" {
				meta["url"] = n.URL
			}
			samples = append(samples, model.EvidenceSample{
				JobID:       payload.JobID,
				Platform:    pr.Platform,
				Type:        model.SampleTypeNote,
				ContentHash: model.ContentHash(payload.JobID, model.SampleTypeNote, pr.Platform, n.ID, content),
				Content:     content,
				Engagement:  eng,
				PublishedAt: n.PublishedAt,
				Metadata:    meta,
			})
			signals = append(signals, model.RawSignal{
				SignalHash:  model.SignalHash(model.SampleTypeNote, pr.Platform, n.ID, content),
				Platform:    pr.Platform,
				Type:        model.SampleTypeNote,
				Content:     content,
				Engagement:  eng,
				PublishedAt: n.PublishedAt,
			})
		}
		for _, c := range pr.Comments {
			eng := model.Engagement{Likes: c.Likes}
			meta := map[string]string{}
			if c.NoteID != "" {
				meta["note_id"] = c.NoteID
			}
			samples = append(samples, model.EvidenceSample{
				JobID:       payload.JobID,
				Platform:    pr.Platform,
				Type:        model.SampleTypeComment,
				ContentHash: model.ContentHash(payload.JobID, model.SampleTypeComment, pr.Platform, c.ID, c.Content),
				Content:     c.Content,
				Engagement:  eng,
				PublishedAt: c.PublishedAt,
				Metadata:    meta,
			})
			signals = append(signals, model.RawSignal{
				SignalHash:  model.SignalHash(model.SampleTypeComment, pr.Platform, c.ID, c.Content),
				Platform:    pr.Platform,
				Type:        model.SampleTypeComment,
				Content:     c.Content,
				Engagement:  eng,
				PublishedAt: c.PublishedAt,
			})
		}
	}

	return samples, signals
}
