// Package memory keeps crawl jobs and page artifacts in process memory. It
// backs the service when no database or bucket is configured and doubles as
// a test fixture.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// JobStore implements crawler.JobStore.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.CrawlJob
	pages map[string][]crawler.PageRecord
	now   func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock uses time.Now.
func NewJobStore(clock crawler.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs:  make(map[string]crawler.CrawlJob),
		pages: make(map[string][]crawler.PageRecord),
		now:   now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus sets status, error text, and counters, stamping the start
// and finish times on the first running and terminal transitions.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress replaces the counters of a running job. Jobs in any other
// state are left alone and no error is returned.
func (s *JobStore) UpdateJobProgress(_ context.Context, jobID string, counters crawler.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job progress %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if job.Status == crawler.JobStatusRunning {
		job.Counters = counters
		s.jobs[jobID] = job
	}
	return nil
}

// RecordPage appends a page to its job.
func (s *JobStore) RecordPage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[page.JobID]; !ok {
		return fmt.Errorf("record page for %s: %w", page.JobID, crawler.ErrJobNotFound)
	}
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// ListPages returns a copy of the pages recorded for a job, in record order.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("list pages for %s: %w", jobID, crawler.ErrJobNotFound)
	}
	pages := s.pages[jobID]
	out := make([]crawler.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}
