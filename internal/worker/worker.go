// Package worker executes queued crawl jobs and persists their output.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/metrics"
	"github.com/JakeFAU/scrapekit/internal/progress"
	"github.com/JakeFAU/scrapekit/internal/scheduler"
)

const defaultPersistConcurrency = 4

// Crawler runs one crawl. *scraper.Service satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, seed string, opts crawler.CrawlOptions, runOpts ...scheduler.RunOption) (*crawler.CrawlResult, error)
}

// Config controls Worker behavior.
type Config struct {
	BlobPrefix         string
	Topic              string
	PersistConcurrency int
	// Progress receives live job and page events. Nil disables them.
	Progress progress.Emitter
}

// Worker consumes queue items and runs them through the crawler.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	crawler   Crawler
	registry  *Registry
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and blobStore may be nil.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	c Crawler,
	registry *Registry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.PersistConcurrency <= 0 {
		cfg.PersistConcurrency = defaultPersistConcurrency
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		crawler:   c,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		logger.Warn("dropping job without a stored record")
		return
	case err != nil:
		logger.Error("load job failed", zap.Error(err))
		return
	case job.Status == crawler.JobStatusCanceled:
		logger.Info("skipping canceled job")
		return
	}

	if w.crawler == nil {
		w.finish(ctx, logger, item.JobID, crawler.JobStatusFailed, "no crawler configured", crawler.JobCounters{}, time.Time{})
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := w.registry.Register(item.JobID, cancel)
	defer release()

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	started := w.clock.Now()
	w.emit(progress.Event{JobID: item.JobID, TS: started, Stage: progress.StageJobStart, URL: item.SeedURL})

	var (
		persist        errgroup.Group
		persistFailed  atomic.Int64
		pagesPersisted atomic.Int64
	)
	persist.SetLimit(w.cfg.PersistConcurrency)
	observer := func(page crawler.PageResult) {
		w.emit(progress.PageEvent(item.JobID, page, w.clock.Now()))
		persist.Go(func() error {
			if err := w.persistPage(ctx, item.JobID, page); err != nil {
				persistFailed.Add(1)
				logger.Warn("persist page failed", zap.String("url", page.URL), zap.Error(err))
				return nil
			}
			pagesPersisted.Add(1)
			return nil
		})
	}

	result, crawlErr := w.crawler.Crawl(jobCtx, item.SeedURL, item.Options, scheduler.WithPageObserver(observer))
	_ = persist.Wait()

	status, errText, counters := deriveFinalStatus(jobCtx, result, crawlErr)
	if n := persistFailed.Load(); n > 0 && errText == "" {
		errText = fmt.Sprintf("%d page(s) could not be persisted", n)
	}
	logger.Info("crawl job finished",
		zap.String("status", string(status)),
		zap.Int("completed", counters.Completed),
		zap.Int("failed", counters.Failed),
		zap.Int64("persisted", pagesPersisted.Load()),
	)
	w.finish(ctx, logger, item.JobID, status, errText, counters, started)
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
	started time.Time,
) {
	metrics.ObserveJob(string(status))
	now := w.clock.Now()
	var dur time.Duration
	if !started.IsZero() && now.After(started) {
		dur = now.Sub(started)
	}
	w.emit(progress.Event{JobID: jobID, TS: now, Stage: progress.StageJobDone, Status: status, Dur: dur, Note: errText})
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	w.publishCompletion(ctx, logger, jobID, status, counters)
}

func (w *Worker) emit(evt progress.Event) {
	if w.cfg.Progress != nil {
		w.cfg.Progress.Emit(evt)
	}
}

// persistPage writes the page body to the blob store, then records the page.
func (w *Worker) persistPage(ctx context.Context, jobID string, page crawler.PageResult) error {
	var uri string
	if body, contentType, ext := pageArtifact(page); body != "" && w.blobStore != nil {
		name, err := w.hasher.Hash([]byte(page.URL))
		if err != nil {
			return fmt.Errorf("hash url: %w", err)
		}
		uri, err = w.blobStore.PutObject(ctx, w.buildBlobPath(jobID, name, ext), contentType, []byte(body))
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
	}
	rec := crawler.PageRecord{
		JobID:     jobID,
		URL:       page.URL,
		Depth:     page.Depth,
		FetchedAt: w.clock.Now(),
		BlobURI:   uri,
		Page:      page,
	}
	if err := w.jobStore.RecordPage(ctx, rec); err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	return nil
}

// pageArtifact picks the richest textual output the page produced.
func pageArtifact(page crawler.PageResult) (body, contentType, ext string) {
	switch {
	case !page.Success:
		return "", "", ""
	case page.Markdown != "":
		return page.Markdown, "text/markdown; charset=utf-8", "md"
	case page.HTML != "":
		return page.HTML, "text/html; charset=utf-8", "html"
	case page.RawHTML != "":
		return page.RawHTML, "text/html; charset=utf-8", "html"
	}
	return "", "", ""
}

func (w *Worker) buildBlobPath(jobID, hash, ext string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.%s", jobID, hash, ext)
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, jobID, hash, ext)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	status crawler.JobStatus,
	counters crawler.JobCounters,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    jobID,
		"status":    string(status),
		"completed": counters.Completed,
		"total":     counters.Total,
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", id))
}

func deriveFinalStatus(
	jobCtx context.Context,
	result *crawler.CrawlResult,
	crawlErr error,
) (crawler.JobStatus, string, crawler.JobCounters) {
	if crawlErr != nil {
		return crawler.JobStatusFailed, crawlErr.Error(), crawler.JobCounters{}
	}
	if result == nil {
		return crawler.JobStatusFailed, "crawl returned no result", crawler.JobCounters{}
	}
	counters := crawler.JobCounters{
		Total:     result.Total,
		Completed: result.Completed,
		Failed:    len(result.Errors),
		Remaining: result.Remaining,
		Status:    result.Status,
	}
	switch {
	case jobCtx.Err() != nil:
		return crawler.JobStatusCanceled, "crawl canceled", counters
	case result.Completed == 0:
		errText := result.Error
		if errText == "" {
			errText = "no pages were crawled"
		}
		return crawler.JobStatusFailed, errText, counters
	default:
		return crawler.JobStatusSucceeded, result.Error, counters
	}
}
