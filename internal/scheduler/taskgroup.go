package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// taskGroup tracks in-flight units of work. Every unit settles on its own:
// an error or panic in one is recorded and never cancels the others.
type taskGroup struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight int
	errs     []error
	// done holds at most one pending completion signal. Completions that land
	// while a signal is already pending coalesce into it.
	done chan struct{}
}

func newTaskGroup() *taskGroup {
	return &taskGroup{done: make(chan struct{}, 1)}
}

// Go starts fn in its own goroutine.
func (g *taskGroup) Go(fn func() error) {
	g.mu.Lock()
	g.inFlight++
	g.mu.Unlock()
	g.wg.Add(1)

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panic: %v", r)
			}
			g.mu.Lock()
			g.inFlight--
			if err != nil {
				g.errs = append(g.errs, err)
			}
			g.mu.Unlock()
			select {
			case g.done <- struct{}{}:
			default:
			}
			g.wg.Done()
		}()
		err = fn()
	}()
}

// InFlight reports how many units have not finished yet.
func (g *taskGroup) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// WaitAny blocks until some unit finishes, a completion is already pending, or
// ctx is done. It returns immediately when nothing is in flight.
func (g *taskGroup) WaitAny(ctx context.Context) {
	select {
	case <-g.done:
		return
	default:
	}
	if g.InFlight() == 0 {
		return
	}
	select {
	case <-g.done:
	case <-ctx.Done():
	}
}

// WaitAll blocks until every unit has settled and returns their joined errors.
func (g *taskGroup) WaitAll() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
