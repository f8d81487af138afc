package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/hash/sha256"
	"github.com/JakeFAU/scrapekit/internal/progress"
	pubmemory "github.com/JakeFAU/scrapekit/internal/publisher/memory"
	queueMemory "github.com/JakeFAU/scrapekit/internal/queue/memory"
	"github.com/JakeFAU/scrapekit/internal/scraper"
	"github.com/JakeFAU/scrapekit/internal/storage/memory"
)

type harness struct {
	queue     *fakeQueue
	jobs      *memory.JobStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	site      *fakeSite
	registry  *Registry
	events    *recordingEmitter
	worker    *Worker
}

func newHarness(t *testing.T, site *fakeSite) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Unix(100, 0).UTC()}
	h := &harness{
		queue:     &fakeQueue{},
		jobs:      memory.NewJobStore(clock),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(nil),
		site:      site,
		registry:  NewRegistry(),
		events:    &recordingEmitter{},
	}
	svc := scraper.New(site, scraper.DefaultConfig())
	t.Cleanup(svc.Close)
	h.worker = New(
		h.queue,
		h.jobs,
		h.blobs,
		h.publisher,
		sha256.New(),
		clock,
		svc,
		h.registry,
		Config{BlobPrefix: "pages", Topic: "crawl-events", Progress: h.events},
		zap.NewNop(),
	)
	return h
}

func (h *harness) submit(t *testing.T, id, seed string, opts crawler.CrawlOptions) {
	t.Helper()
	require.NoError(t, h.jobs.CreateJob(context.Background(), crawler.CrawlJob{
		ID: id, Status: crawler.JobStatusQueued, SeedURL: seed, Options: opts,
	}))
	require.NoError(t, h.queue.Enqueue(context.Background(), crawler.QueueItem{JobID: id, SeedURL: seed, Options: opts}))
}

func (h *harness) status(id string) crawler.JobStatus {
	job, err := h.jobs.GetJob(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.Status
}

func crawlOpts() crawler.CrawlOptions {
	opts := crawler.DefaultCrawlOptions()
	opts.MaxDepth = 1
	opts.DomainDelay = 0
	return opts
}

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, &fakeSite{
		pages: map[string]crawler.PageResult{
			"https://example.com/":  {Success: true, Markdown: "# Home", Links: []string{"https://example.com/a"}},
			"https://example.com/a": {Success: true, Markdown: "# A"},
		},
	})
	h.submit(t, "job-success", "https://example.com/", crawlOpts())

	go h.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return h.status("job-success") == crawler.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	job, err := h.jobs.GetJob(ctx, "job-success")
	require.NoError(t, err)
	require.Equal(t, crawler.JobCounters{Total: 2, Completed: 2, Status: crawler.CrawlStatusCompleted}, job.Counters)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	pages, err := h.jobs.ListPages(ctx, "job-success")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	urls := []string{pages[0].URL, pages[1].URL}
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/a"}, urls)

	hasher := sha256.New()
	for _, page := range pages {
		name, err := hasher.Hash([]byte(page.URL))
		require.NoError(t, err)
		path := fmt.Sprintf("pages/job-success/%s.md", name)
		require.Equal(t, "memory://"+path, page.BlobURI)
		body, contentType, ok := h.blobs.Object(path)
		require.True(t, ok)
		require.Equal(t, page.Page.Markdown, string(body))
		require.Equal(t, "text/markdown; charset=utf-8", contentType)
		require.Empty(t, page.Page.Links, "links are only kept when requested")
	}

	require.Eventually(t, func() bool {
		return len(h.publisher.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	msgs := h.publisher.Messages()
	require.Equal(t, "crawl-events", msgs[0].Topic)
	require.Equal(t, []progress.Stage{
		progress.StageJobStart, progress.StagePage, progress.StagePage, progress.StageJobDone,
	}, h.events.stages())
	require.Equal(t, crawler.JobStatusSucceeded, h.events.last().Status)
	require.Equal(t, map[string]any{
		"job_id":    "job-success",
		"status":    "succeeded",
		"completed": 2,
		"total":     2,
	}, msgs[0].Payload)
}

func TestWorker_ProcessJob_SeedFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSite{pages: map[string]crawler.PageResult{}})
	h.submit(t, "job-fail", "https://example.com/", crawlOpts())

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-fail")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, "1 page(s) failed", job.ErrorText)
	require.Equal(t, 1, job.Counters.Failed)
	require.Zero(t, job.Counters.Completed)

	pages, err := h.jobs.ListPages(context.Background(), "job-fail")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.False(t, pages[0].Page.Success)
	require.Empty(t, pages[0].BlobURI)
	require.Empty(t, h.blobs.Paths())

	require.Equal(t, []progress.Stage{progress.StageJobStart, progress.StagePage, progress.StageJobDone}, h.events.stages())
	done := h.events.last()
	require.Equal(t, crawler.JobStatusFailed, done.Status)
	require.Equal(t, "1 page(s) failed", done.Note)
}

func TestWorker_ProcessJob_SkipsCanceledJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSite{})
	h.submit(t, "job-canceled", "https://example.com/", crawlOpts())
	require.NoError(t, h.jobs.UpdateJobStatus(context.Background(), "job-canceled", crawler.JobStatusCanceled, "", crawler.JobCounters{}))

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	h.worker.processJob(context.Background(), item)

	require.Zero(t, h.site.calls())
	require.Equal(t, crawler.JobStatusCanceled, h.status("job-canceled"))
	require.Empty(t, h.publisher.Messages())
}

func TestWorker_ProcessJob_DropsUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSite{})
	h.worker.processJob(context.Background(), crawler.QueueItem{JobID: "ghost", SeedURL: "https://example.com/"})

	require.Zero(t, h.site.calls())
	require.Empty(t, h.publisher.Messages())
}

func TestWorker_CancelRunningJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, &fakeSite{block: true})
	h.submit(t, "job-cancel", "https://example.com/", crawlOpts())

	go h.worker.Run(ctx)

	require.Eventually(t, func() bool { return h.registry.Running() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.registry.Cancel("job-cancel"))

	require.Eventually(t, func() bool {
		return h.status("job-cancel") == crawler.JobStatusCanceled
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.registry.Running() == 0 }, time.Second, 5*time.Millisecond)
	require.False(t, h.registry.Cancel("job-cancel"))

	job, err := h.jobs.GetJob(ctx, "job-cancel")
	require.NoError(t, err)
	require.Equal(t, "crawl canceled", job.ErrorText)
	require.Equal(t, crawler.CrawlStatusIncomplete, job.Counters.Status)
}

func TestWorker_PublishFailureKeepsStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSite{
		pages: map[string]crawler.PageResult{"https://example.com/": {Success: true, Markdown: "# Home"}},
	})
	h.publisher.FailWith(errors.New("broker down"))
	h.submit(t, "job-pub", "https://example.com/", crawlOpts())

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	h.worker.processJob(context.Background(), item)

	require.Equal(t, crawler.JobStatusSucceeded, h.status("job-pub"))
	require.Empty(t, h.publisher.Messages())
}

func TestWorker_PersistFailureIsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSite{
		pages: map[string]crawler.PageResult{"https://example.com/": {Success: true, Markdown: "# Home"}},
	})
	h.worker.blobStore = failingBlobStore{}
	h.submit(t, "job-blob", "https://example.com/", crawlOpts())

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	h.worker.processJob(context.Background(), item)

	job, err := h.jobs.GetJob(context.Background(), "job-blob")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, "1 page(s) could not be persisted", job.ErrorText)
}

func TestWorkerBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, nil, nil, nil, Config{BlobPrefix: "/pages/"}, nil)
	require.Equal(t, "pages/job/abc.md", w.buildBlobPath("job", "abc", "md"))

	w = New(nil, nil, nil, nil, nil, nil, nil, nil, Config{}, nil)
	require.Equal(t, "job/abc.html", w.buildBlobPath("job", "abc", "html"))
}

func TestPageArtifact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		page crawler.PageResult
		body string
		ext  string
	}{
		{name: "failed page", page: crawler.PageResult{Markdown: "x"}},
		{name: "markdown preferred", page: crawler.PageResult{Success: true, Markdown: "# m", HTML: "<p>h</p>"}, body: "# m", ext: "md"},
		{name: "html fallback", page: crawler.PageResult{Success: true, HTML: "<p>h</p>"}, body: "<p>h</p>", ext: "html"},
		{name: "raw html fallback", page: crawler.PageResult{Success: true, RawHTML: "<html></html>"}, body: "<html></html>", ext: "html"},
		{name: "links only", page: crawler.PageResult{Success: true, Links: []string{"https://a/"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			body, _, ext := pageArtifact(tc.page)
			require.Equal(t, tc.body, body)
			require.Equal(t, tc.ext, ext)
		})
	}
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		result  *crawler.CrawlResult
		err     error
		status  crawler.JobStatus
		errText string
	}{
		{name: "crawl error", ctx: live, err: crawler.ErrInvalidURL, status: crawler.JobStatusFailed, errText: crawler.ErrInvalidURL.Error()},
		{name: "nil result", ctx: live, status: crawler.JobStatusFailed, errText: "crawl returned no result"},
		{name: "canceled", ctx: done, result: &crawler.CrawlResult{Completed: 3}, status: crawler.JobStatusCanceled, errText: "crawl canceled"},
		{name: "nothing crawled", ctx: live, result: &crawler.CrawlResult{}, status: crawler.JobStatusFailed, errText: "no pages were crawled"},
		{name: "partial failure", ctx: live, result: &crawler.CrawlResult{Success: true, Completed: 2, Error: "1 page(s) failed", Errors: []string{"x"}}, status: crawler.JobStatusSucceeded, errText: "1 page(s) failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, errText, _ := deriveFinalStatus(tc.ctx, tc.result, tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.errText, errText)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.False(t, r.Cancel("missing"))

	ctx, cancel := context.WithCancel(context.Background())
	release := r.Register("job", cancel)
	require.Equal(t, 1, r.Running())
	require.True(t, r.Cancel("job"))
	require.Error(t, ctx.Err())

	release()
	require.Zero(t, r.Running())
	require.False(t, r.Cancel("job"))
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, job crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// fakeSite serves canned page results. Unknown URLs fail with a 404. When
// block is set every call waits for its context.
type fakeSite struct {
	mu    sync.Mutex
	pages map[string]crawler.PageResult
	block bool
	n     int
}

func (s *fakeSite) Process(ctx context.Context, url string, _ crawler.FormatRequest) crawler.PageResult {
	s.mu.Lock()
	s.n++
	page, ok := s.pages[url]
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return crawler.Failed(url, ctx.Err())
	}
	if !ok {
		return crawler.Failed(url, &crawler.FetchError{URL: url, StatusCode: 404, Err: errors.New("not found")})
	}
	return page
}

func (s *fakeSite) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Stage
	}
	return out
}

func (r *recordingEmitter) last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestWorker_RunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	w := New(q, memory.NewJobStore(&fakeClock{now: time.Unix(100, 0).UTC()}), nil, nil, sha256.New(),
		&fakeClock{now: time.Unix(100, 0).UTC()}, nil, nil, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	q.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept polling a closed queue")
	}
}
