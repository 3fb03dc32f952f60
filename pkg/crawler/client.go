package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the crawl service's internal job API operations.
type Client interface {
	// StartJob dispatches a crawl job to the external service.
	StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error)
	// GetJob fetches a point-in-time snapshot of a job directly from the
	// service, bypassing the callback channel.
	GetJob(ctx context.Context, jobID string) (*JobSnapshot, error)
}

// StartJobRequest is the body for POST /internal/v1/crawl/jobs.
type StartJobRequest struct {
	JobID          string         `json:"job_id"`
	CallbackURL    string         `json:"callback_url"`
	CallbackSecret string         `json:"callback_secret"`
	Payload        RequestPayload `json:"payload"`
}

// StartJobResponse is the response from POST /internal/v1/crawl/jobs.
type StartJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

// JobSnapshot is the parsed response from GET /internal/v1/crawl/jobs/{id}.
// Payload is nil when the service reported no result or the result could not
// be decoded.
type JobSnapshot struct {
	JobID   string
	Status  JobStatus
	Error   string
	Payload *ResultPayload
}

// APIError is returned when the crawl service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crawler: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimiter throttles outbound calls to the service.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the crawl service at baseURL, authenticating
// with the given bearer token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error) {
	var resp StartJobResponse
	if err := c.post(ctx, "/internal/v1/crawl/jobs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "crawler: start job")
	}
	return &resp, nil
}

// rawSnapshot tolerates the service's three result envelope spellings.
type rawSnapshot struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func (c *httpClient) GetJob(ctx context.Context, jobID string) (*JobSnapshot, error) {
	var raw rawSnapshot
	if err := c.get(ctx, fmt.Sprintf("/internal/v1/crawl/jobs/%s", jobID), &raw); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("crawler: get job %s", jobID))
	}

	snap := &JobSnapshot{
		JobID:  raw.JobID,
		Status: JobStatus(raw.Status),
		Error:  raw.Error,
	}

	for _, body := range []json.RawMessage{raw.ResultPayload, raw.Result, raw.Payload} {
		if len(body) == 0 || string(body) == "null" {
			continue
		}
		var p ResultPayload
		if err := json.Unmarshal(body, &p); err != nil {
			// Malformed result bodies are treated as "no payload".
			continue
		}
		snap.Payload = &p
		break
	}
	return snap, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       Truncate(string(data), maxErrorLen),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
