package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

type entry struct {
	url    string
	domain string
	depth  int
}

type batch struct {
	domain  string
	entries []entry
}

// runState is the crawl state of one run. All fields are guarded by mu.
type runState struct {
	mu     sync.Mutex
	opts   crawler.CrawlOptions
	filter *crawler.LinkFilter
	caches RunCaches

	queue         []entry
	queued        map[string]struct{}
	visited       map[string]struct{}
	depth         map[string]int
	domainCounts  map[string]int
	lastProcessed map[string]time.Time

	results   []crawler.PageResult
	errors    []string
	processed int
	// pending counts URLs marked visited whose outcome is not recorded yet.
	pending int
}

func newRunState(opts crawler.CrawlOptions, filter *crawler.LinkFilter, caches RunCaches) *runState {
	return &runState{
		opts:          opts,
		filter:        filter,
		caches:        caches,
		queued:        make(map[string]struct{}),
		visited:       make(map[string]struct{}),
		depth:         make(map[string]int),
		domainCounts:  make(map[string]int),
		lastProcessed: make(map[string]time.Time),
	}
}

// enqueue adds url at depth unless it is already known. The caller must hold
// mu, except during run setup.
func (st *runState) enqueue(url string, depth int) bool {
	if _, ok := st.visited[url]; ok {
		return false
	}
	if _, ok := st.queued[url]; ok {
		return false
	}
	if st.caches.Failed.Has(url) || st.caches.Seen.Has(url) {
		return false
	}
	st.caches.Seen.Set(url, struct{}{}, seenTTL)
	st.queued[url] = struct{}{}
	if _, ok := st.depth[url]; !ok {
		st.depth[url] = depth
	}
	st.queue = append(st.queue, entry{url: url, domain: crawler.Domain(url), depth: st.depth[url]})
	return true
}

func (st *runState) budgetSpent() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.processed >= st.opts.MaxPages
}

// nextBatches pulls eligible URLs off the front of the queue, grouped by
// domain. It marks every selected URL visited and reserves its domain slots
// before returning.
func (st *runState) nextBatches() []*batch {
	st.mu.Lock()
	defer st.mu.Unlock()

	budget := st.opts.MaxPages - st.processed - st.pending
	if budget <= 0 || len(st.queue) == 0 {
		return nil
	}

	byDomain := make(map[string]*batch)
	var order []*batch
	rest := make([]entry, 0, len(st.queue))
	for _, e := range st.queue {
		if budget == 0 {
			rest = append(rest, e)
			continue
		}
		if _, ok := st.visited[e.url]; ok {
			delete(st.queued, e.url)
			continue
		}
		if st.caches.Failed.Has(e.url) {
			delete(st.queued, e.url)
			continue
		}
		b := byDomain[e.domain]
		size := 0
		if b != nil {
			size = len(b.entries)
		}
		if st.domainCounts[e.domain]+size >= st.opts.DomainConcurrency {
			rest = append(rest, e)
			continue
		}
		if b == nil {
			if len(order) >= st.opts.Concurrency {
				rest = append(rest, e)
				continue
			}
			b = &batch{domain: e.domain}
			byDomain[e.domain] = b
			order = append(order, b)
		}
		b.entries = append(b.entries, e)
		st.visited[e.url] = struct{}{}
		delete(st.queued, e.url)
		budget--
	}
	st.queue = rest

	for _, b := range order {
		st.domainCounts[b.domain] += len(b.entries)
		st.pending += len(b.entries)
	}
	return order
}

// release returns a finished batch's domain slots.
func (st *runState) release(b *batch) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.domainCounts[b.domain] = max(0, st.domainCounts[b.domain]-len(b.entries))
}

// requeue puts undispatched entries back at the front of the queue.
func (st *runState) requeue(entries []entry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	back := make([]entry, 0, len(entries)+len(st.queue))
	for _, e := range entries {
		delete(st.visited, e.url)
		st.queued[e.url] = struct{}{}
		back = append(back, e)
	}
	st.queue = append(back, st.queue...)
	st.pending = max(0, st.pending-len(entries))
}

// skip drops a URL that failed elsewhere before its turn came.
func (st *runState) skip() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending = max(0, st.pending-1)
}

// recordSuccess stores res and enqueues its filtered links when e is above
// the depth limit. It returns how many links were queued.
func (st *runState) recordSuccess(e entry, res crawler.PageResult) int {
	var links []string
	if e.depth < st.opts.MaxDepth {
		links = st.filter.Filter(res.Links, e.url)
	}
	if !st.opts.Format.Wants(crawler.FormatLinks) {
		res.Links = nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.results = append(st.results, res)
	st.processed++
	st.pending = max(0, st.pending-1)

	added := 0
	for _, link := range links {
		if st.enqueue(link, e.depth+1) {
			added++
		}
	}
	return added
}

func (st *runState) recordFailure(e entry, msg string) {
	st.caches.Failed.Set(e.url, msg, 0)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.errors = append(st.errors, fmt.Sprintf("%s: %s", e.url, msg))
	st.pending = max(0, st.pending-1)
}

func (st *runState) result() *crawler.CrawlResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := crawler.CrawlStatusCompleted
	if len(st.queue) > 0 {
		status = crawler.CrawlStatusIncomplete
	}
	data := make([]crawler.PageResult, len(st.results))
	copy(data, st.results)
	res := &crawler.CrawlResult{
		Success:   len(st.errors) == 0,
		Status:    status,
		Total:     len(st.visited) + len(st.queue),
		Completed: st.processed,
		Data:      data,
		Remaining: len(st.queue),
		Errors:    append([]string(nil), st.errors...),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("%d page(s) failed", len(st.errors))
	}
	return res
}
