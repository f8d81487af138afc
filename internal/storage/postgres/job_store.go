// Package postgres persists crawl jobs and their pages in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	JobsTable       string
	PagesTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore implements crawler.JobStore.
type JobStore struct {
	pool       pool
	jobsTable  string
	pagesTable string
	now        func() time.Time
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	jobs, pages, err := tableNames(cfg.JobsTable, cfg.PagesTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, jobsTable: jobs, pagesTable: pages, now: utcNow}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, jobsTable, pagesTable string) (*JobStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	jobs, pages, err := tableNames(jobsTable, pagesTable)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, jobsTable: jobs, pagesTable: pages, now: utcNow}, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func tableNames(jobs, pages string) (string, string, error) {
	if jobs == "" {
		jobs = "crawl_jobs"
	}
	if pages == "" {
		pages = "crawl_pages"
	}
	for _, name := range []string{jobs, pages} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return jobs, pages, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the job and page tables when they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	seed_url     TEXT NOT NULL,
	options      JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	counters     JSONB NOT NULL DEFAULT '{}'
)`, s.jobsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq        BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	depth      INTEGER NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	blob_uri   TEXT NOT NULL DEFAULT '',
	page       JSONB NOT NULL
)`, s.pagesTable, s.jobsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_job_id_idx ON %s (job_id, seq)`, s.pagesTable, s.pagesTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, seed_url, options, submitted_at, error_text, counters)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.jobsTable)

	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.SeedURL,
		optionsJSON,
		job.Submitted,
		job.ErrorText,
		countersJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets status, error text, and counters, stamping the start
// and finish times on the first running and terminal transitions.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $6 AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $7 AND finished_at IS NULL THEN $5 ELSE finished_at END
WHERE id = $1`, s.jobsTable)

	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		countersJSON,
		s.now(),
		status == crawler.JobStatusRunning,
		status.Terminal(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// UpdateJobProgress replaces the counters of a running job. Rows in any other
// state are not touched.
func (s *JobStore) UpdateJobProgress(ctx context.Context, jobID string, counters crawler.JobCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET counters = $2 WHERE id = $1 AND status = $3`, s.jobsTable)
	if _, err := s.pool.Exec(ctx, query, jobID, countersJSON, string(crawler.JobStatusRunning)); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// RecordPage inserts a page row.
func (s *JobStore) RecordPage(ctx context.Context, page crawler.PageRecord) error {
	pageJSON, err := json.Marshal(page.Page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, url, depth, fetched_at, blob_uri, page)
VALUES ($1, $2, $3, $4, $5, $6)`, s.pagesTable)

	if _, err := s.pool.Exec(ctx, query,
		page.JobID,
		page.URL,
		page.Depth,
		page.FetchedAt,
		page.BlobURI,
		pageJSON,
	); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	query := fmt.Sprintf(`
SELECT id, status, seed_url, options, submitted_at, started_at, finished_at, error_text, counters
FROM %s WHERE id = $1`, s.jobsTable)

	var (
		job          crawler.CrawlJob
		status       string
		optionsJSON  []byte
		countersJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.SeedURL,
		&optionsJSON,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&countersJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("decode counters: %w", err)
	}
	return job, nil
}

// ListPages returns the pages recorded for a job in insertion order.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]crawler.PageRecord, error) {
	query := fmt.Sprintf(`
SELECT url, depth, fetched_at, blob_uri, page
FROM %s WHERE job_id = $1 ORDER BY seq`, s.pagesTable)

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()

	pages := []crawler.PageRecord{}
	for rows.Next() {
		rec := crawler.PageRecord{JobID: jobID}
		var pageJSON []byte
		if err := rows.Scan(&rec.URL, &rec.Depth, &rec.FetchedAt, &rec.BlobURI, &pageJSON); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if err := json.Unmarshal(pageJSON, &rec.Page); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
