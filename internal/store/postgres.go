package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/trendscope/evidence-cli/internal/db"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot paths: the poll loop's row re-read and the callback's result write.
var preparedStatements = map[string]string{
	"get_job":          `SELECT id, external_job_id, trace_id, source, platforms, query, status, request_payload, result_payload, quality_score, cost_breakdown, error, attempt, created_at, updated_at FROM crawler_jobs WHERE id = $1`,
	"apply_job_result": `UPDATE crawler_jobs SET status = $1, result_payload = $2, quality_score = $3, cost_breakdown = $4, error = $5, updated_at = $6 WHERE id = $7`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS crawler_jobs (
	id              TEXT PRIMARY KEY,
	external_job_id TEXT,
	trace_id        TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	platforms       JSONB NOT NULL,
	query           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	request_payload JSONB NOT NULL,
	result_payload  JSONB,
	quality_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_breakdown  JSONB,
	error           TEXT,
	attempt         INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_crawler_jobs_status ON crawler_jobs(status);
CREATE INDEX IF NOT EXISTS idx_crawler_jobs_created_at ON crawler_jobs(created_at);

CREATE TABLE IF NOT EXISTS crawler_samples (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id       TEXT NOT NULL REFERENCES crawler_jobs(id),
	platform     TEXT NOT NULL,
	sample_type  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content      TEXT NOT NULL,
	engagement   JSONB NOT NULL,
	published_at TEXT,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(job_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_crawler_samples_job_id ON crawler_samples(job_id);

CREATE TABLE IF NOT EXISTS crawler_signals (
	signal_hash  TEXT PRIMARY KEY,
	platform     TEXT NOT NULL,
	sample_type  TEXT NOT NULL,
	content      TEXT NOT NULL,
	engagement   JSONB NOT NULL,
	published_at TEXT,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawler_provider_metrics_daily (
	day            DATE NOT NULL,
	provider       TEXT NOT NULL,
	total_jobs     INTEGER NOT NULL DEFAULT 0,
	success_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_quality    DOUBLE PRECISION NOT NULL DEFAULT 0,
	p95_latency_ms INTEGER NOT NULL DEFAULT 0,
	UNIQUE(day, provider)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, req crawler.RequestPayload) (*model.CrawlJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	platformsJSON, err := json.Marshal(req.Platforms)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal platforms")
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal request payload")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawler_jobs (id, trace_id, source, platforms, query, status, request_payload, attempt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, req.TraceID, req.Source, platformsJSON, req.Query,
		string(crawler.StatusQueued), reqJSON, 0, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.CrawlJob{
		ID:        id,
		TraceID:   req.TraceID,
		Source:    req.Source,
		Platforms: req.Platforms,
		Query:     req.Query,
		Status:    crawler.StatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) MarkJobDispatched(ctx context.Context, jobID, externalJobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawler_jobs SET status = $1, external_job_id = $2, attempt = attempt + 1, updated_at = $3 WHERE id = $4`,
		string(crawler.StatusDispatched), externalJobID, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job dispatched %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawler_jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(crawler.StatusFailed), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job failed %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

// FailJobIfPending writes a terminal failure status only when the job is still
// non-terminal, so a self-heal write cannot clobber a callback that landed a
// moment earlier.
func (s *PostgresStore) FailJobIfPending(ctx context.Context, jobID string, status crawler.JobStatus, errText string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawler_jobs SET status = $1, error = $2, updated_at = $3
		 WHERE id = $4 AND status IN ('queued', 'dispatched', 'running')`,
		string(status), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fail job if pending %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ApplyJobResult(ctx context.Context, jobID string, upd ResultUpdate, onlyIfPending bool) (bool, error) {
	var resultJSON []byte
	var err error
	if upd.Result != nil {
		resultJSON, err = json.Marshal(upd.Result)
		if err != nil {
			return false, eris.Wrap(err, "postgres: marshal result payload")
		}
	}
	costJSON, err := json.Marshal(upd.Cost)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal cost breakdown")
	}

	query := `UPDATE crawler_jobs SET status = $1, result_payload = $2, quality_score = $3, cost_breakdown = $4, error = $5, updated_at = $6 WHERE id = $7`
	if onlyIfPending {
		query += ` AND status IN ('queued', 'dispatched', 'running')`
	}

	tag, err := s.pool.Exec(ctx, query,
		string(upd.Status), resultJSON, upd.QualityScore, costJSON,
		nullable(upd.Error), time.Now().UTC(), jobID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: apply job result %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	var j model.CrawlJob
	var externalID, errText *string
	var platformsJSON, reqJSON []byte
	var resultJSON, costJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, external_job_id, trace_id, source, platforms, query, status, request_payload, result_payload, quality_score, cost_breakdown, error, attempt, created_at, updated_at FROM crawler_jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &externalID, &j.TraceID, &j.Source, &platformsJSON, &j.Query,
		&j.Status, &reqJSON, &resultJSON, &j.QualityScore, &costJSON,
		&errText, &j.Attempt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	if err := scanJobJSON(&j, externalID, errText, platformsJSON, reqJSON, resultJSON, costJSON); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error) {
	query := `SELECT id, external_job_id, trace_id, source, platforms, query, status, request_payload, result_payload, quality_score, cost_breakdown, error, attempt, created_at, updated_at FROM crawler_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.CrawlJob
	for rows.Next() {
		var j model.CrawlJob
		var externalID, errText *string
		var platformsJSON, reqJSON []byte
		var resultJSON, costJSON *[]byte

		if err := rows.Scan(&j.ID, &externalID, &j.TraceID, &j.Source, &platformsJSON, &j.Query,
			&j.Status, &reqJSON, &resultJSON, &j.QualityScore, &costJSON,
			&errText, &j.Attempt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		if err := scanJobJSON(&j, externalID, errText, platformsJSON, reqJSON, resultJSON, costJSON); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// scanJobJSON unpacks the nullable and JSONB columns of a job row.
func scanJobJSON(j *model.CrawlJob, externalID, errText *string, platformsJSON, reqJSON []byte, resultJSON, costJSON *[]byte) error {
	if externalID != nil {
		j.ExternalJobID = *externalID
	}
	if errText != nil {
		j.Error = *errText
	}
	if err := json.Unmarshal(platformsJSON, &j.Platforms); err != nil {
		return eris.Wrap(err, "postgres: unmarshal platforms")
	}
	if err := json.Unmarshal(reqJSON, &j.Request); err != nil {
		return eris.Wrap(err, "postgres: unmarshal request payload")
	}
	if resultJSON != nil && len(*resultJSON) > 0 {
		j.Result = &crawler.ResultPayload{}
		if err := json.Unmarshal(*resultJSON, j.Result); err != nil {
			return eris.Wrap(err, "postgres: unmarshal result payload")
		}
	}
	if costJSON != nil && len(*costJSON) > 0 {
		if err := json.Unmarshal(*costJSON, &j.Cost); err != nil {
			return eris.Wrap(err, "postgres: unmarshal cost breakdown")
		}
	}
	return nil
}

// UpsertSamples bulk-inserts flattened evidence rows, silently skipping rows
// whose (job_id, content_hash) already exists. This is what makes callback
// replay safe to apply more than once.
func (s *PostgresStore) UpsertSamples(ctx context.Context, samples []model.EvidenceSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(samples))
	for _, sm := range samples {
		engJSON, err := json.Marshal(sm.Engagement)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal engagement")
		}
		var metaJSON []byte
		if sm.Metadata != nil {
			metaJSON, err = json.Marshal(sm.Metadata)
			if err != nil {
				return 0, eris.Wrap(err, "postgres: marshal sample metadata")
			}
		}
		rows = append(rows, []any{
			sm.JobID, string(sm.Platform), string(sm.Type), sm.ContentHash,
			sm.Content, engJSON, nullable(sm.PublishedAt), metaJSON,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertIgnoreConfig{
		Table:        "crawler_samples",
		Columns:      []string{"job_id", "platform", "sample_type", "content_hash", "content", "engagement", "published_at", "metadata"},
		ConflictKeys: []string{"job_id", "content_hash"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert samples")
	}
	return int(n), nil
}

func (s *PostgresStore) UpsertSignals(ctx context.Context, signals []model.RawSignal) (int, error) {
	written := 0
	for _, sig := range signals {
		engJSON, err := json.Marshal(sig.Engagement)
		if err != nil {
			return written, eris.Wrap(err, "postgres: marshal signal engagement")
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO crawler_signals (signal_hash, platform, sample_type, content, engagement, published_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (signal_hash) DO UPDATE SET engagement = EXCLUDED.engagement, last_seen_at = now()`,
			sig.SignalHash, string(sig.Platform), string(sig.Type), sig.Content, engJSON, nullable(sig.PublishedAt),
		)
		if err != nil {
			return written, eris.Wrapf(err, "postgres: upsert signal %s", sig.SignalHash)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// BumpProviderMetrics folds one job outcome into the (day, provider) row with
// an incremental running mean; p95 latency is approximated as a running max.
func (s *PostgresStore) BumpProviderMetrics(ctx context.Context, day time.Time, provider string, success bool, costUSD, quality float64, latencyMs int) error {
	successVal := 0.0
	if success {
		successVal = 1.0
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawler_provider_metrics_daily (day, provider, total_jobs, success_rate, avg_cost_usd, avg_quality, p95_latency_ms)
		 VALUES ($1, $2, 1, $3, $4, $5, $6)
		 ON CONFLICT (day, provider) DO UPDATE SET
		   success_rate   = (crawler_provider_metrics_daily.success_rate * crawler_provider_metrics_daily.total_jobs + $3) / (crawler_provider_metrics_daily.total_jobs + 1),
		   avg_cost_usd   = (crawler_provider_metrics_daily.avg_cost_usd * crawler_provider_metrics_daily.total_jobs + $4) / (crawler_provider_metrics_daily.total_jobs + 1),
		   avg_quality    = (crawler_provider_metrics_daily.avg_quality * crawler_provider_metrics_daily.total_jobs + $5) / (crawler_provider_metrics_daily.total_jobs + 1),
		   p95_latency_ms = GREATEST(crawler_provider_metrics_daily.p95_latency_ms, $6),
		   total_jobs     = crawler_provider_metrics_daily.total_jobs + 1`,
		day.UTC().Truncate(24*time.Hour), provider, successVal, costUSD, quality, latencyMs,
	)
	return eris.Wrapf(err, "postgres: bump provider metrics %s", provider)
}

func (s *PostgresStore) ListProviderMetrics(ctx context.Context, since time.Time) ([]model.ProviderMetricsDaily, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day, provider, total_jobs, success_rate, avg_cost_usd, avg_quality, p95_latency_ms
		 FROM crawler_provider_metrics_daily
		 WHERE day >= $1 ORDER BY day DESC, provider`,
		since.UTC().Truncate(24*time.Hour),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provider metrics")
	}
	defer rows.Close()

	var metrics []model.ProviderMetricsDaily
	for rows.Next() {
		var m model.ProviderMetricsDaily
		if err := rows.Scan(&m.Day, &m.Provider, &m.TotalJobs, &m.SuccessRate, &m.AvgCostUSD, &m.AvgQuality, &m.P95LatencyMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider metrics")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: list provider metrics iterate")
}

// nullable maps "" to NULL for text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

