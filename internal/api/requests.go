package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// formatFields are shared by scrape and crawl requests. Pointer fields
// distinguish "unset" from an explicit zero.
type formatFields struct {
	Formats         []string                `json:"formats"`
	OnlyMainContent *bool                   `json:"only_main_content"`
	IncludeTags     []string                `json:"include_tags"`
	ExcludeTags     []string                `json:"exclude_tags"`
	Extract         *crawler.ExtractRequest `json:"extract"`
	TimeoutMS       *int                    `json:"timeout_ms"`
	Headers         map[string]string       `json:"headers"`
	RespectRobots   *bool                   `json:"respect_robots"`
}

type scrapeRequest struct {
	URL string `json:"url"`
	formatFields
}

type mapRequest struct {
	URL                  string   `json:"url"`
	Search               string   `json:"search"`
	Limit                *int     `json:"limit"`
	IncludePatterns      []string `json:"include_patterns"`
	ExcludePatterns      []string `json:"exclude_patterns"`
	AllowExternalDomains *bool    `json:"allow_external_domains"`
	TimeoutMS            *int     `json:"timeout_ms"`
}

type crawlRequest struct {
	URL                  string   `json:"url"`
	MaxDepth             *int     `json:"max_depth"`
	MaxPages             *int     `json:"max_pages"`
	Concurrency          *int     `json:"concurrency"`
	DomainConcurrency    *int     `json:"domain_concurrency"`
	DomainDelayMS        *int     `json:"domain_delay_ms"`
	IncludePatterns      []string `json:"include_patterns"`
	ExcludePatterns      []string `json:"exclude_patterns"`
	AllowExternalDomains *bool    `json:"allow_external_domains"`
	formatFields
}

func (f formatFields) formatRequest() (crawler.FormatRequest, error) {
	formats, err := parseFormats(f.Formats)
	if err != nil {
		return crawler.FormatRequest{}, err
	}
	if f.Extract != nil {
		switch f.Extract.Mode {
		case "", crawler.ExtractModeExtract, crawler.ExtractModeSummarize:
		default:
			return crawler.FormatRequest{}, fmt.Errorf("unsupported extract mode %q", f.Extract.Mode)
		}
	}
	req := crawler.FormatRequest{
		Formats:         formats,
		OnlyMainContent: valueOrDefault(f.OnlyMainContent, false),
		IncludeTags:     f.IncludeTags,
		ExcludeTags:     f.ExcludeTags,
		Extract:         f.Extract,
		Timeout:         millis(f.TimeoutMS),
		RespectRobots:   valueOrDefault(f.RespectRobots, false),
	}
	if len(f.Headers) > 0 {
		req.Headers = make(http.Header, len(f.Headers))
		for k, v := range f.Headers {
			req.Headers.Set(k, v)
		}
	}
	return req, nil
}

// crawlOptions overlays the request on defaults.
func (c crawlRequest) crawlOptions(defaults crawler.CrawlOptions) (crawler.CrawlOptions, error) {
	opts := defaults
	opts.MaxDepth = valueOrDefault(c.MaxDepth, defaults.MaxDepth)
	opts.MaxPages = valueOrDefault(c.MaxPages, defaults.MaxPages)
	opts.Concurrency = valueOrDefault(c.Concurrency, defaults.Concurrency)
	opts.DomainConcurrency = valueOrDefault(c.DomainConcurrency, defaults.DomainConcurrency)
	if c.DomainDelayMS != nil {
		opts.DomainDelay = time.Duration(*c.DomainDelayMS) * time.Millisecond
	}
	opts.IncludePatterns = c.IncludePatterns
	opts.ExcludePatterns = c.ExcludePatterns
	opts.AllowExternalDomains = valueOrDefault(c.AllowExternalDomains, defaults.AllowExternalDomains)

	switch {
	case opts.MaxDepth < 0:
		return opts, errors.New("max_depth must be >= 0")
	case opts.MaxPages <= 0:
		return opts, errors.New("max_pages must be > 0")
	case opts.Concurrency <= 0:
		return opts, errors.New("concurrency must be > 0")
	case opts.DomainConcurrency <= 0:
		return opts, errors.New("domain_concurrency must be > 0")
	case opts.DomainDelay < 0:
		return opts, errors.New("domain_delay_ms must be >= 0")
	}
	if _, err := crawler.NewLinkFilter(opts.FilterOptions()); err != nil {
		return opts, err
	}

	format, err := c.formatRequest()
	if err != nil {
		return opts, err
	}
	if len(format.Formats) == 0 {
		format.Formats = defaults.Format.Formats
	}
	if c.OnlyMainContent == nil {
		format.OnlyMainContent = defaults.Format.OnlyMainContent
	}
	if c.RespectRobots == nil {
		format.RespectRobots = defaults.Format.RespectRobots
	}
	opts.Format = format
	return opts, nil
}

func parseFormats(raw []string) ([]crawler.Format, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]crawler.Format, 0, len(raw))
	for _, s := range raw {
		f, ok := crawler.ParseFormat(s)
		if !ok {
			return nil, fmt.Errorf("unsupported format %q", s)
		}
		out = append(out, f)
	}
	return out, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func millis(ms *int) time.Duration {
	if ms == nil || *ms <= 0 {
		return 0
	}
	return time.Duration(*ms) * time.Millisecond
}
