package crawler

import (
	"context"
	"time"
)

// Fetcher performs a plain HTTP fetch of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer executes page scripts in a DOM environment and serializes the result.
type Renderer interface {
	Render(ctx context.Context, request RenderRequest) (FetchResponse, error)
}

// ContentFetcher returns reconciled page content, escalating to a renderer when needed.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (FetchedContent, error)
}

// PageProcessor turns one URL into a PageResult. It never returns an error;
// failures are reported through PageResult.Success and PageResult.Error.
type PageProcessor interface {
	Process(ctx context.Context, url string, req FormatRequest) PageResult
}

// Extractor runs structured extraction or summarization over page content.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest, content string) (any, error)
}

// Hook transforms a page result before or after content transformation.
// Returning a result with Success=false, or an error, stops further processing
// of that URL.
type Hook interface {
	Apply(ctx context.Context, result PageResult) (PageResult, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, result PageResult) (PageResult, error)

// Apply calls f.
func (f HookFunc) Apply(ctx context.Context, result PageResult) (PageResult, error) {
	return f(ctx, result)
}

// JobStore persists crawl jobs and their pages.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordPage(ctx context.Context, page PageRecord) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	ListPages(ctx context.Context, jobID string) ([]PageRecord, error)
}

// BlobStore writes page artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests used for blob names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
