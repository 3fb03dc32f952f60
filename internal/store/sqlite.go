package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local and dev
// runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crawler_jobs (
	id              TEXT PRIMARY KEY,
	external_job_id TEXT,
	trace_id        TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	platforms       TEXT NOT NULL,
	query           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	request_payload TEXT NOT NULL,
	result_payload  TEXT,
	quality_score   REAL NOT NULL DEFAULT 0,
	cost_breakdown  TEXT,
	error           TEXT,
	attempt         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_crawler_jobs_status ON crawler_jobs(status);

CREATE TABLE IF NOT EXISTS crawler_samples (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES crawler_jobs(id),
	platform     TEXT NOT NULL,
	sample_type  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content      TEXT NOT NULL,
	engagement   TEXT NOT NULL,
	published_at TEXT,
	metadata     TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(job_id, content_hash)
);

CREATE TABLE IF NOT EXISTS crawler_signals (
	signal_hash   TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	sample_type   TEXT NOT NULL,
	content       TEXT NOT NULL,
	engagement    TEXT NOT NULL,
	published_at  TEXT,
	first_seen_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_seen_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS crawler_provider_metrics_daily (
	day            TEXT NOT NULL,
	provider       TEXT NOT NULL,
	total_jobs     INTEGER NOT NULL DEFAULT 0,
	success_rate   REAL NOT NULL DEFAULT 0,
	avg_cost_usd   REAL NOT NULL DEFAULT 0,
	avg_quality    REAL NOT NULL DEFAULT 0,
	p95_latency_ms INTEGER NOT NULL DEFAULT 0,
	UNIQUE(day, provider)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, req crawler.RequestPayload) (*model.CrawlJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	platformsJSON, err := json.Marshal(req.Platforms)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal platforms")
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal request payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crawler_jobs (id, trace_id, source, platforms, query, status, request_payload, attempt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, req.TraceID, req.Source, string(platformsJSON), req.Query,
		string(crawler.StatusQueued), string(reqJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) MarkJobDispatched(ctx context.Context, jobID, externalJobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawler_jobs SET status = ?, external_job_id = ?, attempt = attempt + 1, updated_at = ? WHERE id = ?`,
		string(crawler.StatusDispatched), externalJobID, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job dispatched %s", jobID)
	}
	return requireRow(res, jobID)
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawler_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(crawler.StatusFailed), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job failed %s", jobID)
	}
	return requireRow(res, jobID)
}

func (s *SQLiteStore) FailJobIfPending(ctx context.Context, jobID string, status crawler.JobStatus, errText string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawler_jobs SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status IN ('queued', 'dispatched', 'running')`,
		string(status), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: fail job if pending %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ApplyJobResult(ctx context.Context, jobID string, upd ResultUpdate, onlyIfPending bool) (bool, error) {
	var resultJSON []byte
	var err error
	if upd.Result != nil {
		resultJSON, err = json.Marshal(upd.Result)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal result payload")
		}
	}
	costJSON, err := json.Marshal(upd.Cost)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal cost breakdown")
	}

	query := `UPDATE crawler_jobs SET status = ?, result_payload = ?, quality_score = ?, cost_breakdown = ?, error = ?, updated_at = ? WHERE id = ?`
	if onlyIfPending {
		query += ` AND status IN ('queued', 'dispatched', 'running')`
	}

	res, err := s.db.ExecContext(ctx, query,
		string(upd.Status), nullableBytes(resultJSON), upd.QualityScore, string(costJSON),
		sqlNullable(upd.Error), time.Now().UTC(), jobID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: apply job result %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_job_id, trace_id, source, platforms, query, status, request_payload, result_payload, quality_score, cost_breakdown, error, attempt, created_at, updated_at FROM crawler_jobs WHERE id = ?`,
		jobID,
	)
	j, err := scanSQLiteJob(row.Scan)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error) {
	query := `SELECT id, external_job_id, trace_id, source, platforms, query, status, request_payload, result_payload, quality_score, cost_breakdown, error, attempt, created_at, updated_at FROM crawler_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.CrawlJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func scanSQLiteJob(scan func(dest ...any) error) (*model.CrawlJob, error) {
	var j model.CrawlJob
	var externalID, resultJSON, costJSON, errText sql.NullString
	var platformsJSON, reqJSON string

	if err := scan(&j.ID, &externalID, &j.TraceID, &j.Source, &platformsJSON, &j.Query,
		&j.Status, &reqJSON, &resultJSON, &j.QualityScore, &costJSON,
		&errText, &j.Attempt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}

	j.ExternalJobID = externalID.String
	j.Error = errText.String
	if err := json.Unmarshal([]byte(platformsJSON), &j.Platforms); err != nil {
		return nil, eris.Wrap(err, "unmarshal platforms")
	}
	if err := json.Unmarshal([]byte(reqJSON), &j.Request); err != nil {
		return nil, eris.Wrap(err, "unmarshal request payload")
	}
	if resultJSON.Valid && resultJSON.String != "" {
		j.Result = &crawler.ResultPayload{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result payload")
		}
	}
	if costJSON.Valid && costJSON.String != "" {
		if err := json.Unmarshal([]byte(costJSON.String), &j.Cost); err != nil {
			return nil, eris.Wrap(err, "unmarshal cost breakdown")
		}
	}
	return &j, nil
}

func (s *SQLiteStore) UpsertSamples(ctx context.Context, samples []model.EvidenceSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	inserted := 0
	for _, sm := range samples {
		engJSON, err := json.Marshal(sm.Engagement)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal engagement")
		}
		var metaJSON []byte
		if sm.Metadata != nil {
			metaJSON, err = json.Marshal(sm.Metadata)
			if err != nil {
				return 0, eris.Wrap(err, "sqlite: marshal sample metadata")
			}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO crawler_samples (id, job_id, platform, sample_type, content_hash, content, engagement, published_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), sm.JobID, string(sm.Platform), string(sm.Type),
			sm.ContentHash, sm.Content, string(engJSON), sqlNullable(sm.PublishedAt), nullableBytes(metaJSON),
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert sample")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit samples")
	}
	return inserted, nil
}

func (s *SQLiteStore) UpsertSignals(ctx context.Context, signals []model.RawSignal) (int, error) {
	written := 0
	for _, sig := range signals {
		engJSON, err := json.Marshal(sig.Engagement)
		if err != nil {
			return written, eris.Wrap(err, "sqlite: marshal signal engagement")
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO crawler_signals (signal_hash, platform, sample_type, content, engagement, published_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (signal_hash) DO UPDATE SET engagement = excluded.engagement, last_seen_at = datetime('now')`,
			sig.SignalHash, string(sig.Platform), string(sig.Type), sig.Content, string(engJSON), sqlNullable(sig.PublishedAt),
		)
		if err != nil {
			return written, eris.Wrapf(err, "sqlite: upsert signal %s", sig.SignalHash)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return written, eris.Wrap(err, "sqlite: rows affected")
		}
		written += int(n)
	}
	return written, nil
}

func (s *SQLiteStore) BumpProviderMetrics(ctx context.Context, day time.Time, provider string, success bool, costUSD, quality float64, latencyMs int) error {
	successVal := 0.0
	if success {
		successVal = 1.0
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawler_provider_metrics_daily (day, provider, total_jobs, success_rate, avg_cost_usd, avg_quality, p95_latency_ms)
		 VALUES (?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT (day, provider) DO UPDATE SET
		   success_rate   = (success_rate * total_jobs + excluded.success_rate) / (total_jobs + 1),
		   avg_cost_usd   = (avg_cost_usd * total_jobs + excluded.avg_cost_usd) / (total_jobs + 1),
		   avg_quality    = (avg_quality * total_jobs + excluded.avg_quality) / (total_jobs + 1),
		   p95_latency_ms = MAX(p95_latency_ms, excluded.p95_latency_ms),
		   total_jobs     = total_jobs + 1`,
		day.UTC().Format("2006-01-02"), provider, successVal, costUSD, quality, latencyMs,
	)
	return eris.Wrapf(err, "sqlite: bump provider metrics %s", provider)
}

func (s *SQLiteStore) ListProviderMetrics(ctx context.Context, since time.Time) ([]model.ProviderMetricsDaily, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, provider, total_jobs, success_rate, avg_cost_usd, avg_quality, p95_latency_ms
		 FROM crawler_provider_metrics_daily
		 WHERE day >= ? ORDER BY day DESC, provider`,
		since.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provider metrics")
	}
	defer rows.Close()

	var metrics []model.ProviderMetricsDaily
	for rows.Next() {
		var m model.ProviderMetricsDaily
		var dayStr string
		if err := rows.Scan(&dayStr, &m.Provider, &m.TotalJobs, &m.SuccessRate, &m.AvgCostUSD, &m.AvgQuality, &m.P95LatencyMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider metrics")
		}
		day, err := time.Parse("2006-01-02", dayStr)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse metrics day %s", dayStr)
		}
		m.Day = day
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: list provider metrics iterate")
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func sqlNullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
