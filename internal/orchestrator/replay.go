package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/trendscope/evidence-cli/internal/ingest"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// HTTPReplayer delivers recovered payloads to the callback endpoint over
// HTTP, signed the same way the crawler signs its callbacks.
type HTTPReplayer struct {
	http *http.Client
}

// NewHTTPReplayer creates a replayer with a bounded client timeout.
func NewHTTPReplayer() *HTTPReplayer {
	return &HTTPReplayer{http: &http.Client{Timeout: 10 * time.Second}}
}

// Replay posts payload to callbackURL with the HMAC signature header. Any
// non-2xx response is an error; the caller falls back to direct ingestion.
func (r *HTTPReplayer) Replay(ctx context.Context, callbackURL, secret string, payload *crawler.ResultPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "replay: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "replay: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ingest.SignatureHeader, crawler.Sign(secret, body))

	resp, err := r.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "replay: post callback")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return eris.Errorf("replay: callback returned %d: %s", resp.StatusCode, crawler.Truncate(string(b), 200))
	}
	return nil
}
