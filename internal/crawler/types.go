package crawler

import (
	"net/http"
	"time"
)

// Format names one output representation of a processed page.
type Format string

// Supported page formats.
const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatRawHTML  Format = "rawHtml"
	FormatLinks    Format = "links"
	FormatExtract  Format = "extract"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(s); f {
	case FormatMarkdown, FormatHTML, FormatRawHTML, FormatLinks, FormatExtract:
		return f, true
	}
	return "", false
}

// FetchRequest captures everything needed for a lightweight fetch.
type FetchRequest struct {
	URL           string
	Headers       http.Header
	RespectRobots bool
	Timeout       time.Duration
}

// FetchResponse is the result returned by a Fetcher or Renderer.
type FetchResponse struct {
	URL           string
	StatusCode    int
	Headers       http.Header
	Body          []byte
	Duration      time.Duration
	UsedHeadless  bool
	ConsoleErrors int
}

// RenderRequest asks a Renderer to execute page scripts. When HTML is set the
// renderer is seeded with it instead of loading URL over the network.
type RenderRequest struct {
	URL     string
	HTML    []byte
	Headers http.Header
	Timeout time.Duration
}

// FetchOptions tune a single adaptive fetch.
type FetchOptions struct {
	Timeout       time.Duration
	Headers       http.Header
	RespectRobots bool
}

// FetchedContent is the reconciled output of the adaptive fetcher.
type FetchedContent struct {
	URL                     string
	HTML                    string
	StatusCode              int
	Headers                 http.Header
	RenderedWithHeavyEngine bool
}

// ExtractMode selects between structured extraction and free-text summaries.
type ExtractMode string

// Extract modes.
const (
	ExtractModeExtract   ExtractMode = "extract"
	ExtractModeSummarize ExtractMode = "summarize"
)

// ExtractRequest configures the optional LLM step.
type ExtractRequest struct {
	Mode   ExtractMode    `json:"mode,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Model  string         `json:"model,omitempty"`
}

// FormatRequest describes what the page processor should produce for one URL.
type FormatRequest struct {
	Formats         []Format        `json:"formats,omitempty"`
	OnlyMainContent bool            `json:"only_main_content,omitempty"`
	IncludeTags     []string        `json:"include_tags,omitempty"`
	ExcludeTags     []string        `json:"exclude_tags,omitempty"`
	Extract         *ExtractRequest `json:"extract,omitempty"`
	Timeout         time.Duration   `json:"timeout,omitempty"`
	Headers         http.Header     `json:"headers,omitempty"`
	RespectRobots   bool            `json:"respect_robots,omitempty"`
	PreProcess      Hook            `json:"-"`
	PostProcess     Hook            `json:"-"`
}

// Wants reports whether f was requested.
func (r FormatRequest) Wants(f Format) bool {
	for _, have := range r.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// WithFormat returns a copy of r that also requests f.
func (r FormatRequest) WithFormat(f Format) FormatRequest {
	if r.Wants(f) {
		return r
	}
	formats := make([]Format, 0, len(r.Formats)+1)
	formats = append(formats, r.Formats...)
	r.Formats = append(formats, f)
	return r
}

// Metadata describes a fetched page.
type Metadata struct {
	Title                   string `json:"title,omitempty"`
	Description             string `json:"description,omitempty"`
	Language                string `json:"language,omitempty"`
	Keywords                string `json:"keywords,omitempty"`
	Canonical               string `json:"canonical,omitempty"`
	OGTitle                 string `json:"og_title,omitempty"`
	OGDescription           string `json:"og_description,omitempty"`
	OGImage                 string `json:"og_image,omitempty"`
	SourceURL               string `json:"source_url"`
	StatusCode              int    `json:"status_code"`
	ContentType             string `json:"content_type,omitempty"`
	RenderedWithHeavyEngine bool   `json:"rendered_with_heavy_engine"`
}

// PageResult is the per-URL output of the page processor.
type PageResult struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	URL      string    `json:"url,omitempty"`
	Depth    int       `json:"depth"`
	Markdown string    `json:"markdown,omitempty"`
	HTML     string    `json:"html,omitempty"`
	RawHTML  string    `json:"raw_html,omitempty"`
	Links    []string  `json:"links,omitempty"`
	Extract  any       `json:"extract,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Failed builds an unsuccessful result for url.
func Failed(url string, err error) PageResult {
	return PageResult{URL: url, Error: err.Error()}
}

// CrawlStatus is the terminal state of a crawl run.
type CrawlStatus string

// Crawl statuses.
const (
	CrawlStatusCompleted  CrawlStatus = "completed"
	CrawlStatusIncomplete CrawlStatus = "incomplete"
)

// Crawl option defaults.
const (
	DefaultMaxDepth          = 3
	DefaultMaxPages          = 100
	DefaultConcurrency       = 5
	DefaultDomainConcurrency = 2
	DefaultDomainDelay       = 200 * time.Millisecond
	DefaultRequestTimeout    = 30 * time.Second
)

// CrawlOptions configures one crawl run.
type CrawlOptions struct {
	MaxDepth             int           `json:"max_depth"`
	MaxPages             int           `json:"max_pages"`
	Concurrency          int           `json:"concurrency"`
	DomainConcurrency    int           `json:"domain_concurrency"`
	DomainDelay          time.Duration `json:"domain_delay"`
	IncludePatterns      []string      `json:"include_patterns,omitempty"`
	ExcludePatterns      []string      `json:"exclude_patterns,omitempty"`
	AllowExternalDomains bool          `json:"allow_external_domains"`
	Format               FormatRequest `json:"format"`
}

// DefaultCrawlOptions returns the documented defaults.
func DefaultCrawlOptions() CrawlOptions {
	return CrawlOptions{
		MaxDepth:          DefaultMaxDepth,
		MaxPages:          DefaultMaxPages,
		Concurrency:       DefaultConcurrency,
		DomainConcurrency: DefaultDomainConcurrency,
		DomainDelay:       DefaultDomainDelay,
		Format:            FormatRequest{Formats: []Format{FormatMarkdown}},
	}
}

// FilterOptions returns the link filter settings embedded in the crawl options.
func (o CrawlOptions) FilterOptions() FilterOptions {
	return FilterOptions{
		IncludePatterns:      o.IncludePatterns,
		ExcludePatterns:      o.ExcludePatterns,
		AllowExternalDomains: o.AllowExternalDomains,
	}
}

// CrawlResult is returned by every crawl run, including partially failed ones.
type CrawlResult struct {
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	Status    CrawlStatus  `json:"status"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Data      []PageResult `json:"data"`
	Remaining int          `json:"remaining,omitempty"`
	Errors    []string     `json:"errors,omitempty"`
}

// MapOptions configures single-level link discovery.
type MapOptions struct {
	Search               string        `json:"search,omitempty"`
	Limit                int           `json:"limit,omitempty"`
	IncludePatterns      []string      `json:"include_patterns,omitempty"`
	ExcludePatterns      []string      `json:"exclude_patterns,omitempty"`
	AllowExternalDomains bool          `json:"allow_external_domains"`
	Timeout              time.Duration `json:"timeout,omitempty"`
}

// MapResult lists links discovered on one page.
type MapResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Links   []string `json:"links"`
}

// JobStatus represents the lifecycle state of an asynchronous crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// CrawlJob is the persisted record of an asynchronous crawl.
type CrawlJob struct {
	ID        string       `json:"id"`
	Status    JobStatus    `json:"status"`
	SeedURL   string       `json:"seed_url"`
	Options   CrawlOptions `json:"options"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Counters  JobCounters  `json:"counters"`
}

// JobCounters summarizes a crawl job's progress.
type JobCounters struct {
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	Remaining int         `json:"remaining"`
	Status    CrawlStatus `json:"crawl_status,omitempty"`
}

// PageRecord is persisted for each page a crawl job produced.
type PageRecord struct {
	JobID     string     `json:"job_id"`
	URL       string     `json:"url"`
	Depth     int        `json:"depth"`
	FetchedAt time.Time  `json:"fetched_at"`
	BlobURI   string     `json:"blob_uri,omitempty"`
	Page      PageResult `json:"page"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job   CrawlJob     `json:"job"`
	Pages []PageRecord `json:"pages"`
}

// QueueItem wraps a crawl job ready to run.
type QueueItem struct {
	JobID     string
	SeedURL   string
	Options   CrawlOptions
	Attempt   int
	Submitted int64
}
