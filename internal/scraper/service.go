// Package scraper is the entry point for scrape, crawl, and map requests. It
// merges caller options with configured defaults, rate limits every page
// fetch per domain, and caches single-page scrapes.
package scraper

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/cache"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/scheduler"
)

// Limiter delays work for a URL's domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config carries the defaults applied to incoming requests.
type Config struct {
	Crawl         crawler.CrawlOptions
	ScrapeTimeout time.Duration
	// CacheTTL is how long successful scrapes are reused. Zero disables the cache.
	CacheTTL time.Duration
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		Crawl:         crawler.DefaultCrawlOptions(),
		ScrapeTimeout: crawler.DefaultRequestTimeout,
		CacheTTL:      5 * time.Minute,
	}
}

// Service implements scrape, crawl, and map on top of a page processor.
type Service struct {
	cfg       Config
	processor crawler.PageProcessor
	scheduler *scheduler.Scheduler
	results   *cache.TTL[string, crawler.PageResult]
	logger    *zap.Logger

	limiter      Limiter
	schedulerOps []scheduler.Option
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLimiter rate limits every processor call.
func WithLimiter(l Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithSchedulerOptions passes options through to the crawl scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(s *Service) {
		s.schedulerOps = append(s.schedulerOps, opts...)
	}
}

// New builds a Service.
func New(processor crawler.PageProcessor, cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.processor = processor
	if s.limiter != nil {
		s.processor = limitedProcessor{next: processor, limiter: s.limiter}
	}
	if cfg.CacheTTL > 0 {
		s.results = cache.New[string, crawler.PageResult]()
	}
	schedOpts := append([]scheduler.Option{scheduler.WithLogger(s.logger)}, s.schedulerOps...)
	s.scheduler = scheduler.New(s.processor, schedOpts...)
	return s
}

// CrawlDefaults returns the configured crawl options, a starting point for callers.
func (s *Service) CrawlDefaults() crawler.CrawlOptions {
	opts := s.cfg.Crawl
	opts.Format.Formats = slices.Clone(opts.Format.Formats)
	return opts
}

// Close releases the result cache.
func (s *Service) Close() {
	if s.results != nil {
		s.results.Close()
	}
}

// Scrape processes a single URL. The error is non-nil only for a malformed
// URL; fetch and conversion failures are reported in the result.
func (s *Service) Scrape(ctx context.Context, rawURL string, req crawler.FormatRequest) (crawler.PageResult, error) {
	pageURL, err := crawler.ParseSeed(rawURL)
	if err != nil {
		return crawler.PageResult{}, err
	}
	req = s.mergeFormat(req)

	key, cacheable := cacheKey(pageURL, req)
	if cacheable && s.results != nil {
		if hit, ok := s.results.Get(key); ok {
			s.logger.Debug("scrape cache hit", zap.String("url", pageURL))
			return hit, nil
		}
	}

	result := s.processor.Process(ctx, pageURL, req)
	if result.URL == "" {
		result.URL = pageURL
	}
	if !result.Success {
		s.logger.Warn("scrape failed", zap.String("url", pageURL), zap.String("error", result.Error))
		return result, nil
	}
	if cacheable && s.results != nil {
		s.results.Set(key, result, s.cfg.CacheTTL)
	}
	return result, nil
}

// Crawl runs a crawl from rawURL. Non-positive page, concurrency, and domain
// concurrency limits take the configured defaults.
func (s *Service) Crawl(ctx context.Context, rawURL string, opts crawler.CrawlOptions, runOpts ...scheduler.RunOption) (*crawler.CrawlResult, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = s.cfg.Crawl.MaxPages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.cfg.Crawl.Concurrency
	}
	if opts.DomainConcurrency <= 0 {
		opts.DomainConcurrency = s.cfg.Crawl.DomainConcurrency
	}
	opts.Format = s.mergeFormat(opts.Format)
	return s.scheduler.Run(ctx, rawURL, opts, runOpts...)
}

// Map lists the links on one page.
func (s *Service) Map(ctx context.Context, rawURL string, opts crawler.MapOptions) (*crawler.MapResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.ScrapeTimeout
	}
	return s.scheduler.Map(ctx, rawURL, opts)
}

func (s *Service) mergeFormat(req crawler.FormatRequest) crawler.FormatRequest {
	if len(req.Formats) == 0 {
		req.Formats = slices.Clone(s.cfg.Crawl.Format.Formats)
		if len(req.Formats) == 0 {
			req.Formats = []crawler.Format{crawler.FormatMarkdown}
		}
	}
	if req.Timeout <= 0 {
		req.Timeout = s.cfg.ScrapeTimeout
	}
	return req
}

// cacheKey identifies a scrape by URL and every option that changes its
// output. Requests with hooks or extraction are never cached.
func cacheKey(pageURL string, req crawler.FormatRequest) (string, bool) {
	if req.PreProcess != nil || req.PostProcess != nil || req.Extract != nil || len(req.Headers) > 0 {
		return "", false
	}
	formats := make([]string, len(req.Formats))
	for i, f := range req.Formats {
		formats[i] = string(f)
	}
	slices.Sort(formats)
	include := slices.Clone(req.IncludeTags)
	slices.Sort(include)
	exclude := slices.Clone(req.ExcludeTags)
	slices.Sort(exclude)

	return strings.Join([]string{
		pageURL,
		strings.Join(formats, ","),
		strconv.FormatBool(req.OnlyMainContent),
		strings.Join(include, ","),
		strings.Join(exclude, ","),
	}, "|"), true
}

type limitedProcessor struct {
	next    crawler.PageProcessor
	limiter Limiter
}

func (p limitedProcessor) Process(ctx context.Context, url string, req crawler.FormatRequest) crawler.PageResult {
	if err := p.limiter.Wait(ctx, url); err != nil {
		return crawler.Failed(url, err)
	}
	return p.next.Process(ctx, url, req)
}
