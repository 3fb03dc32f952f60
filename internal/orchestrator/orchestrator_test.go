package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendscope/evidence-cli/internal/cost"
	"github.com/trendscope/evidence-cli/internal/ingest"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/internal/store"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// fakeClient scripts the crawler service's two endpoints.
type fakeClient struct {
	startResp *crawler.StartJobResponse
	startErr  error
	snapshot  *crawler.JobSnapshot
	snapErr   error

	startCalls int
	getCalls   int
}

func (f *fakeClient) StartJob(ctx context.Context, req crawler.StartJobRequest) (*crawler.StartJobResponse, error) {
	f.startCalls++
	return f.startResp, f.startErr
}

func (f *fakeClient) GetJob(ctx context.Context, jobID string) (*crawler.JobSnapshot, error) {
	f.getCalls++
	return f.snapshot, f.snapErr
}

// fakeStore keeps job rows in memory with the same conditional-write
// semantics as the real stores.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*model.CrawlJob

	failedWith     string
	pendingFails   []crawler.JobStatus
	appliedGuarded []bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*model.CrawlJob{}}
}

func (f *fakeStore) CreateJob(ctx context.Context, req crawler.RequestPayload) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &model.CrawlJob{ID: "job-1", TraceID: req.TraceID, Status: crawler.StatusQueued, Request: req}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeStore) MarkJobDispatched(ctx context.Context, jobID, externalJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = crawler.StatusDispatched
	f.jobs[jobID].ExternalJobID = externalJobID
	return nil
}

func (f *fakeStore) MarkJobFailed(ctx context.Context, jobID, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = crawler.StatusFailed
	f.jobs[jobID].Error = errText
	f.failedWith = errText
	return nil
}

func (f *fakeStore) FailJobIfPending(ctx context.Context, jobID string, status crawler.JobStatus, errText string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingFails = append(f.pendingFails, status)
	j := f.jobs[jobID]
	if j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = status
	j.Error = errText
	return true, nil
}

func (f *fakeStore) ApplyJobResult(ctx context.Context, jobID string, upd store.ResultUpdate, onlyIfPending bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedGuarded = append(f.appliedGuarded, onlyIfPending)
	j := f.jobs[jobID]
	if onlyIfPending && j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = upd.Status
	j.Result = upd.Result
	j.QualityScore = upd.QualityScore
	j.Cost = upd.Cost
	j.Error = upd.Error
	return true, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copy := *j
	return &copy, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.CrawlJob, error) {
	return nil, nil
}

func (f *fakeStore) UpsertSamples(ctx context.Context, samples []model.EvidenceSample) (int, error) {
	return len(samples), nil
}

func (f *fakeStore) UpsertSignals(ctx context.Context, signals []model.RawSignal) (int, error) {
	return len(signals), nil
}

func (f *fakeStore) BumpProviderMetrics(ctx context.Context, day time.Time, provider string, success bool, costUSD, quality float64, latencyMs int) error {
	return nil
}

func (f *fakeStore) ListProviderMetrics(ctx context.Context, since time.Time) ([]model.ProviderMetricsDaily, error) {
	return nil, nil
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

// fakeReplayer counts replay attempts and optionally applies the payload the
// way the real callback endpoint would.
type fakeReplayer struct {
	err     error
	applyTo *fakeStore
	calls   int
}

func (f *fakeReplayer) Replay(ctx context.Context, callbackURL, secret string, payload *crawler.ResultPayload) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.applyTo != nil {
		_, _ = f.applyTo.ApplyJobResult(ctx, payload.JobID, store.ResultUpdate{
			Status: payload.Status,
			Result: payload,
		}, false)
	}
	return nil
}

func testOrchestrator(st *fakeStore, client crawler.Client, rp Replayer) *Orchestrator {
	ing := ingest.NewService(st, cost.NewCalculator(cost.DefaultRates()), "secret", false)
	return New(Config{
		BaseURL:        "https://crawler.internal",
		CallbackURL:    "https://self.internal/crawler-callback",
		CallbackSecret: "secret",
		PollInterval:   5 * time.Millisecond,
	}, client, st, ing, rp)
}

func req() DispatchRequest {
	return DispatchRequest{
		ValidationID: "v1",
		CallerID:     "tester",
		Source:       "test",
		Query:        "matcha",
		Mode:         crawler.ModeQuick,
		Xiaohongshu:  true,
	}
}

func TestDispatch_DisabledService(t *testing.T) {
	st := newFakeStore()
	orch := New(Config{}, nil, st, nil, nil)

	res, err := orch.Dispatch(context.Background(), req())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, st.jobs)
}

func TestDispatch_NoPlatforms(t *testing.T) {
	st := newFakeStore()
	orch := testOrchestrator(st, &fakeClient{}, nil)

	r := req()
	r.Xiaohongshu = false
	res, err := orch.Dispatch(context.Background(), r)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, st.jobs)
}

func TestDispatch_Success(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{startResp: &crawler.StartJobResponse{JobID: "ext-9"}}
	orch := testOrchestrator(st, client, nil)

	res, err := orch.Dispatch(context.Background(), req())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Dispatched)
	assert.Equal(t, "ext-9", res.ExternalJobID)
	assert.Equal(t, crawler.StatusDispatched, st.jobs[res.JobID].Status)
	assert.NotEmpty(t, st.jobs[res.JobID].Request.TraceID)
	assert.Equal(t, crawler.BuildLimits(crawler.ModeQuick), st.jobs[res.JobID].Request.Limits)
}

func TestDispatch_ExternalIDFallsBackToInternal(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{startResp: &crawler.StartJobResponse{}}
	orch := testOrchestrator(st, client, nil)

	res, err := orch.Dispatch(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, res.JobID, res.ExternalJobID)
}

func TestDispatch_ServiceError(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{startErr: &crawler.APIError{StatusCode: 503, Body: "overloaded"}}
	orch := testOrchestrator(st, client, nil)

	res, err := orch.Dispatch(context.Background(), req())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Dispatched)
	assert.Error(t, res.Err)
	// Row preserved for inspection, marked failed with the response body.
	assert.Equal(t, crawler.StatusFailed, st.jobs[res.JobID].Status)
	assert.Contains(t, st.failedWith, "overloaded")
}

func TestPoll_ReturnsTerminalImmediately(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{}
	orch := testOrchestrator(st, client, nil)

	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusCompleted}

	job, err := orch.Poll(context.Background(), "job-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, job.Status)
	assert.Zero(t, client.getCalls)
}

func TestPoll_SelfHealReplaysLostCallback(t *testing.T) {
	st := newFakeStore()
	payload := &crawler.ResultPayload{JobID: "job-1", Status: crawler.StatusCompleted}
	client := &fakeClient{snapshot: &crawler.JobSnapshot{JobID: "job-1", Status: crawler.StatusCompleted, Payload: payload}}
	rp := &fakeReplayer{applyTo: st}
	orch := testOrchestrator(st, client, rp)

	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusDispatched}

	job, err := orch.Poll(context.Background(), "job-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	// Exactly one replay attempt.
	assert.Equal(t, 1, rp.calls)
}

func TestPoll_SelfHealFallsBackToGuardedApply(t *testing.T) {
	st := newFakeStore()
	payload := &crawler.ResultPayload{JobID: "job-1", Status: crawler.StatusCompleted}
	client := &fakeClient{snapshot: &crawler.JobSnapshot{JobID: "job-1", Status: crawler.StatusCompleted, Payload: payload}}
	rp := &fakeReplayer{err: context.DeadlineExceeded}
	orch := testOrchestrator(st, client, rp)

	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusDispatched}

	job, err := orch.Poll(context.Background(), "job-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, rp.calls)
	assert.Equal(t, crawler.StatusCompleted, job.Status)
	// The fallback write went through the guarded path.
	require.NotEmpty(t, st.appliedGuarded)
	assert.True(t, st.appliedGuarded[len(st.appliedGuarded)-1])
}

func TestPoll_SelfHealTerminalWithoutPayload(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{snapshot: &crawler.JobSnapshot{JobID: "job-1", Status: crawler.StatusFailed, Error: "crawler exploded"}}
	orch := testOrchestrator(st, client, &fakeReplayer{})

	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusDispatched}

	job, err := orch.Poll(context.Background(), "job-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFailed, job.Status)
	assert.Equal(t, "crawler exploded", job.Error)
}

func TestPoll_SelfHealSnapshotUnreachable(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{snapErr: &crawler.APIError{StatusCode: 404, Body: "unknown job"}}
	orch := testOrchestrator(st, client, &fakeReplayer{})

	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusDispatched}

	job, err := orch.Poll(context.Background(), "job-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusTimeout, job.Status)
	assert.Equal(t, ErrCallbackTimeout, job.Error)
}

func TestPoll_SelfHealNeverClobbersTerminalRow(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{snapErr: &crawler.APIError{StatusCode: 500, Body: "boom"}}
	orch := testOrchestrator(st, client, &fakeReplayer{})

	// A callback landed just before the self-heal write.
	st.jobs["job-1"] = &model.CrawlJob{ID: "job-1", Status: crawler.StatusCompleted}

	job, err := orch.Poll(context.Background(), "job-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, job.Status)
}

func TestRoute_SkippedWhenDisabled(t *testing.T) {
	orch := New(Config{}, nil, newFakeStore(), nil, nil)

	res, err := orch.Route(context.Background(), req(), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ErrServiceDisabled, res.Diagnostic)
}

func TestRoute_DispatchFailureNeverPolls(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{startErr: &crawler.APIError{StatusCode: 500, Body: "boom"}}
	orch := testOrchestrator(st, client, nil)

	_, err := orch.Route(context.Background(), req(), time.Second)
	require.Error(t, err)
	assert.Zero(t, client.getCalls)
}

func TestRoute_DiagnosticOnFailure(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{startResp: &crawler.StartJobResponse{JobID: "ext-1"}}
	orch := testOrchestrator(st, client, nil)

	// Simulate a callback writing a failed result while the route waits.
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = st.ApplyJobResult(context.Background(), "job-1", store.ResultUpdate{
			Status: crawler.StatusFailed,
			Result: &crawler.ResultPayload{
				JobID:  "job-1",
				Status: crawler.StatusFailed,
				PlatformResults: []crawler.PlatformResult{
					{Platform: crawler.PlatformXiaohongshu, Success: false, Error: "login wall"},
				},
			},
		}, false)
	}()

	res, err := orch.Route(context.Background(), req(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFailed, res.Job.Status)
	assert.Contains(t, res.Diagnostic, "xiaohongshu: login wall")
}

func TestTraceID_Format(t *testing.T) {
	a := traceID("v1", "caller")
	b := traceID("v1", "caller")

	assert.Len(t, a, 16)
	// Timestamp participates, so consecutive derivations differ.
	assert.NotEqual(t, a, b)
}
