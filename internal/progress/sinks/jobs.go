package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/progress"
)

// ProgressStore accepts live counters for running jobs. The memory and
// postgres job stores implement it.
type ProgressStore interface {
	UpdateJobProgress(ctx context.Context, jobID string, counters crawler.JobCounters) error
}

// JobSink keeps running jobs' counters current while they crawl, so status
// polls see pages accumulate before the final result lands. While a job runs
// Total counts the pages processed so far.
type JobSink struct {
	store  ProgressStore
	logger *zap.Logger

	mu   sync.Mutex
	live map[string]*crawler.JobCounters
}

// NewJobSink constructs a JobSink writing to store.
func NewJobSink(store ProgressStore, logger *zap.Logger) *JobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobSink{
		store:  store,
		logger: logger,
		live:   make(map[string]*crawler.JobCounters),
	}
}

// Consume folds page events into per-job counters and writes one update per
// job touched by the batch. Finished jobs are forgotten.
func (s *JobSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	updates := s.apply(batch)

	var errs []error
	for jobID, counters := range updates {
		err := s.store.UpdateJobProgress(ctx, jobID, counters)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrJobNotFound):
			s.forget(jobID)
		default:
			errs = append(errs, fmt.Errorf("job %s: %w", jobID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *JobSink) apply(batch []progress.Event) map[string]crawler.JobCounters {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.live[evt.JobID] = &crawler.JobCounters{}
		case progress.StagePage:
			c := s.live[evt.JobID]
			if c == nil {
				c = &crawler.JobCounters{}
				s.live[evt.JobID] = c
			}
			if evt.Success {
				c.Completed++
			} else {
				c.Failed++
			}
			c.Total = c.Completed + c.Failed
			touched[evt.JobID] = struct{}{}
		case progress.StageJobDone:
			delete(s.live, evt.JobID)
			delete(touched, evt.JobID)
		}
	}

	out := make(map[string]crawler.JobCounters, len(touched))
	for id := range touched {
		out[id] = *s.live[id]
	}
	return out
}

func (s *JobSink) forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, jobID)
}

// Running reports how many jobs the sink is tracking.
func (s *JobSink) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close implements progress.Sink.
func (s *JobSink) Close(context.Context) error {
	return nil
}
