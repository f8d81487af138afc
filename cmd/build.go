package cmd

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/cache"
	"github.com/JakeFAU/scrapekit/internal/clock/system"
	"github.com/JakeFAU/scrapekit/internal/config"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/fetcher/adaptive"
	collyfetcher "github.com/JakeFAU/scrapekit/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/scrapekit/internal/fetcher/headless"
	"github.com/JakeFAU/scrapekit/internal/headless/detector"
	"github.com/JakeFAU/scrapekit/internal/llm"
	"github.com/JakeFAU/scrapekit/internal/policy/ratelimit"
	"github.com/JakeFAU/scrapekit/internal/processor"
	"github.com/JakeFAU/scrapekit/internal/scheduler"
	"github.com/JakeFAU/scrapekit/internal/scraper"
)

// buildScraper assembles the fetch and processing pipeline behind the
// facade. The returned func releases the browser and caches.
func buildScraper(cfg config.Config, logger *zap.Logger) (*scraper.Service, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	light := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodySize:   cfg.HTTP.MaxBodySize,
	})

	var heavy crawler.Renderer
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			ExecPath:          cfg.Headless.ExecPath,
			NoHeadless:        cfg.Headless.Visible,
		}, logger.Named("headless"))
		if err != nil {
			logger.Warn("headless renderer init failed; rendering disabled", zap.Error(err))
		} else {
			heavy = renderer
			closers = append(closers, renderer.Close)
		}
	}

	classifier := detector.NewHeuristic(detector.Config{
		StaticHosts:     append(slices.Clone(detector.DefaultStaticHosts), cfg.Detector.StaticHosts...),
		HeavyHosts:      append(slices.Clone(detector.DefaultHeavyHosts), cfg.Detector.HeavyHosts...),
		MinTextLength:   cfg.Detector.MinTextLength,
		ShellTextLength: cfg.Detector.ShellTextLength,
		MinParagraphs:   cfg.Detector.MinParagraphs,
		MaxShellScripts: cfg.Detector.MaxShellScripts,
	})

	fetchOpts := []adaptive.Option{
		adaptive.WithLogger(logger.Named("fetcher")),
		adaptive.WithDefaultTimeout(cfg.Scrape.Timeout),
	}
	if cfg.Cache.DetectorTTL > 0 {
		decisions := cache.New[string, bool]()
		closers = append(closers, decisions.Close)
		fetchOpts = append(fetchOpts, adaptive.WithDecisionCache(decisions, cfg.Cache.DetectorTTL))
	}
	fetcher := adaptive.New(light, heavy, classifier, fetchOpts...)

	procOpts := []processor.Option{processor.WithLogger(logger.Named("processor"))}
	if cfg.LLM.Enabled {
		procOpts = append(procOpts, processor.WithExtractor(llm.NewClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, logger.Named("llm"))))
	}
	proc := processor.New(fetcher, procOpts...)

	svcOpts := []scraper.Option{
		scraper.WithLogger(logger.Named("scraper")),
		scraper.WithSchedulerOptions(scheduler.WithClock(system.New())),
	}
	if cfg.RateLimit.Enabled {
		rates, err := cfg.DomainRates()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("rate limits: %w", err)
		}
		svcOpts = append(svcOpts, scraper.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
			Domains:      rates,
		})))
	}

	svc := scraper.New(proc, scraper.Config{
		Crawl:         cfg.CrawlOptions(),
		ScrapeTimeout: cfg.Scrape.Timeout,
		CacheTTL:      cfg.Cache.ScrapeTTL,
	}, svcOpts...)
	closers = append(closers, svc.Close)

	return svc, cleanup, nil
}
