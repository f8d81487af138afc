// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/worker"
)

// Runner consumes jobs until its context ends. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers and routes cancel
// requests to whichever worker holds the job.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []Runner
	registry *worker.Registry
}

// New creates a Dispatcher. A nil registry means running jobs cannot be
// canceled.
func New(queue crawler.Queue, workers []Runner, registry *worker.Registry) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: registry,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatcher workers: %w", err)
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops a running job. It reports false when no worker is running it.
func (d *Dispatcher) Cancel(jobID string) bool {
	if d.registry == nil {
		return false
	}
	return d.registry.Cancel(jobID)
}
