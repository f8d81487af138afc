// Package scheduler runs domain-aware crawls over a page processor.
//
// A run owns its frontier, visited set and per-domain accounting. URLs are
// pulled from the frontier in per-domain batches; each batch runs on its own
// goroutine and processes its URLs one at a time, spacing requests to the same
// domain by the configured delay. Links discovered on successful pages feed
// the frontier until the depth limit, the page budget, or an empty frontier
// ends the run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/cache"
	"github.com/JakeFAU/scrapekit/internal/clock/system"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/metrics"
)

// seenTTL bounds how long a discovered URL stays in the default seen cache.
const seenTTL = time.Hour

// RunCaches are the dedup caches a single run consults. Both are cleared when
// the run starts.
type RunCaches struct {
	Seen   *cache.TTL[string, struct{}]
	Failed *cache.TTL[string, string]
}

// NewRunCaches returns a fresh pair of caches without background sweepers.
func NewRunCaches() RunCaches {
	return RunCaches{
		Seen:   cache.New[string, struct{}](cache.WithSweepInterval(0)),
		Failed: cache.New[string, string](cache.WithSweepInterval(0)),
	}
}

// Scheduler drives crawl runs. It is safe to call Run concurrently; runs share
// nothing but the processor.
type Scheduler struct {
	processor crawler.PageProcessor
	logger    *zap.Logger
	clock     crawler.Clock
	caches    func() RunCaches
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for domain delay accounting.
func WithClock(clk crawler.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithRunCaches sets the factory called once per run for its seen and failed
// caches.
func WithRunCaches(factory func() RunCaches) Option {
	return func(s *Scheduler) {
		if factory != nil {
			s.caches = factory
		}
	}
}

// New builds a Scheduler.
func New(processor crawler.PageProcessor, opts ...Option) *Scheduler {
	s := &Scheduler{
		processor: processor,
		logger:    zap.NewNop(),
		clock:     system.New(),
		caches:    NewRunCaches,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOption customizes a single run.
type RunOption func(*runConfig)

type runConfig struct {
	observer func(crawler.PageResult)
}

// WithPageObserver registers fn to receive every page result, successful or
// not, as soon as it is recorded. fn runs on the batch goroutine.
func WithPageObserver(fn func(crawler.PageResult)) RunOption {
	return func(c *runConfig) {
		c.observer = fn
	}
}

// Run crawls from seed. It returns an error only for a malformed seed or
// invalid options; per-page failures are reported in the result. Cancelling
// ctx stops new dispatch and returns the partial result.
func (s *Scheduler) Run(ctx context.Context, seed string, opts crawler.CrawlOptions, runOpts ...RunOption) (*crawler.CrawlResult, error) {
	seedURL, err := crawler.ParseSeed(seed)
	if err != nil {
		return nil, err
	}
	opts = normalizeOptions(opts)
	filter, err := crawler.NewLinkFilter(opts.FilterOptions())
	if err != nil {
		return nil, err
	}
	var rc runConfig
	for _, opt := range runOpts {
		opt(&rc)
	}

	caches := s.caches()
	caches.Seen.Clear()
	caches.Failed.Clear()

	st := newRunState(opts, filter, caches)
	st.enqueue(seedURL, 0)

	logger := s.logger.With(zap.String("seed", seedURL))
	logger.Info("crawl started",
		zap.Int("max_depth", opts.MaxDepth),
		zap.Int("max_pages", opts.MaxPages),
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("domain_concurrency", opts.DomainConcurrency),
		zap.Duration("domain_delay", opts.DomainDelay),
	)
	start := s.clock.Now()

	group := newTaskGroup()
	for ctx.Err() == nil && !st.budgetSpent() {
		batches := st.nextBatches()
		if len(batches) == 0 {
			if group.InFlight() == 0 {
				break
			}
			group.WaitAny(ctx)
			continue
		}
		for _, b := range batches {
			group.Go(func() error {
				return s.runBatch(ctx, st, b, rc.observer)
			})
		}
		if overloaded(group.InFlight(), opts.Concurrency) {
			group.WaitAny(ctx)
		}
	}
	if err := group.WaitAll(); err != nil {
		logger.Error("domain batch failed", zap.Error(err))
		st.mu.Lock()
		st.errors = append(st.errors, err.Error())
		st.mu.Unlock()
	}

	result := st.result()
	if ctx.Err() != nil {
		result.Status = crawler.CrawlStatusIncomplete
		if result.Error == "" {
			result.Error = fmt.Sprintf("crawl interrupted: %v", context.Cause(ctx))
		}
	}
	metrics.ObserveCrawlRun(string(result.Status))
	logger.Info("crawl finished",
		zap.String("status", string(result.Status)),
		zap.Int("completed", result.Completed),
		zap.Int("total", result.Total),
		zap.Int("remaining", result.Remaining),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	)
	return result, nil
}

// overloaded reports whether more domain batches are in flight than the
// backpressure limit of twice the concurrency allows.
func overloaded(inFlight, concurrency int) bool {
	return inFlight > 2*concurrency
}

func normalizeOptions(opts crawler.CrawlOptions) crawler.CrawlOptions {
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = crawler.DefaultMaxPages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = crawler.DefaultConcurrency
	}
	if opts.DomainConcurrency <= 0 {
		opts.DomainConcurrency = crawler.DefaultDomainConcurrency
	}
	if opts.DomainDelay < 0 {
		opts.DomainDelay = 0
	}
	if len(opts.Format.Formats) == 0 {
		opts.Format.Formats = []crawler.Format{crawler.FormatMarkdown}
	}
	return opts
}

func (s *Scheduler) runBatch(ctx context.Context, st *runState, b *batch, observer func(crawler.PageResult)) error {
	defer st.release(b)

	for i, e := range b.entries {
		if ctx.Err() != nil {
			st.requeue(b.entries[i:])
			return nil
		}
		if err := s.waitForDomain(ctx, st, b.domain); err != nil {
			st.requeue(b.entries[i:])
			return nil
		}
		s.processEntry(ctx, st, e, observer)
	}
	return nil
}

// waitForDomain sleeps until the domain delay has passed since the domain's
// last completed fetch.
func (s *Scheduler) waitForDomain(ctx context.Context, st *runState, domain string) error {
	if st.opts.DomainDelay <= 0 {
		return nil
	}
	st.mu.Lock()
	last, ok := st.lastProcessed[domain]
	st.mu.Unlock()
	if !ok {
		return nil
	}
	if wait := st.opts.DomainDelay - s.clock.Now().Sub(last); wait > 0 {
		return system.Sleep(ctx, wait)
	}
	return nil
}

func (s *Scheduler) processEntry(ctx context.Context, st *runState, e entry, observer func(crawler.PageResult)) {
	if st.caches.Failed.Has(e.url) {
		st.skip()
		return
	}

	req := st.opts.Format.WithFormat(crawler.FormatLinks)
	res := s.processor.Process(ctx, e.url, req)
	res.URL = e.url
	res.Depth = e.depth

	st.mu.Lock()
	st.lastProcessed[e.domain] = s.clock.Now()
	st.mu.Unlock()

	if res.Success {
		added := st.recordSuccess(e, res)
		s.logger.Debug("page crawled",
			zap.String("url", e.url),
			zap.Int("depth", e.depth),
			zap.Int("links_queued", added),
		)
	} else {
		if res.Error == "" {
			res.Error = "page processing failed"
		}
		st.recordFailure(e, res.Error)
		s.logger.Warn("page failed",
			zap.String("url", e.url),
			zap.Int("depth", e.depth),
			zap.Error(errors.New(res.Error)),
		)
	}

	if observer != nil {
		if !st.opts.Format.Wants(crawler.FormatLinks) {
			res.Links = nil
		}
		observer(res)
	}
}
