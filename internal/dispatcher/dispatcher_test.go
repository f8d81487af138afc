package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 2)
	runners := []Runner{blockingRunner{started: started}, blockingRunner{started: started}}
	dispatch := New(&errorQueue{}, runners, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatch.Run(ctx)
	}()

	for range runners {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("worker did not start")
		}
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")

	require.NoError(t, New(&errorQueue{}, nil, nil).Enqueue(context.Background(), crawler.QueueItem{JobID: "job"}))
}

func TestDispatcherCancel(t *testing.T) {
	t.Parallel()

	require.False(t, New(&errorQueue{}, nil, nil).Cancel("job"))

	registry := worker.NewRegistry()
	dispatch := New(&errorQueue{}, nil, registry)
	require.False(t, dispatch.Cancel("job"))

	ctx, cancel := context.WithCancel(context.Background())
	release := registry.Register("job", cancel)
	defer release()
	require.True(t, dispatch.Cancel("job"))
	require.Error(t, ctx.Err())
}

type blockingRunner struct {
	started chan struct{}
}

func (r blockingRunner) Run(ctx context.Context) {
	r.started <- struct{}{}
	<-ctx.Done()
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("dequeue: %w", ctx.Err())
}
