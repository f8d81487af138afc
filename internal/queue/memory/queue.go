// Package memory provides the in-process crawl job queue that feeds the
// dispatcher when scrapekit serves the HTTP API.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/metrics"
)

// Queue is a bounded FIFO of crawl jobs. Submissions past capacity wait for a
// worker until their context ends, which is how the API applies backpressure.
// After Close, Enqueue fails with crawler.ErrQueueClosed and Dequeue drains
// what is left before failing the same way.
type Queue struct {
	mu     sync.RWMutex
	ch     chan crawler.QueueItem
	closed bool
}

// NewQueue constructs a queue holding up to capacity pending jobs. A
// non-positive capacity makes Enqueue wait for a worker.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan crawler.QueueItem, max(capacity, 0))}
}

// Enqueue submits job, waiting for room until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, job crawler.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, crawler.ErrQueueClosed)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	}
}

// Dequeue hands the oldest job to a worker.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
		metrics.SetQueueDepth(len(q.ch))
		return job, nil
	}
}

// Close stops accepting jobs. It waits for in-progress Enqueue calls to
// return and is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len reports the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.ch)
}
