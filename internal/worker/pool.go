package worker

import (
	"context"
	"sync"
)

// Task is a unit of work producing a result of type R
type Task[R any] func(ctx context.Context) R

// Pool runs tasks on a fixed number of goroutines
type Pool[R any] struct {
	workers   int
	tasks     chan Task[R]
	results   chan R
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPool creates a pool bound to parent; cancelling parent stops the workers
func NewPool[R any](parent context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)

	return &Pool[R]{
		workers: workers,
		tasks:   make(chan Task[R], workers*2),
		results: make(chan R, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Workers returns the configured worker count
func (p *Pool[R]) Workers() int {
	return p.workers
}

// Start launches the workers
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool[R]) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			r := task(p.ctx)
			select {
			case p.results <- r:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a task. It returns false if the pool was cancelled first.
func (p *Pool[R]) Submit(task Task[R]) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.tasks <- task:
		return true
	}
}

// Results exposes results as they arrive; the channel closes after Close
func (p *Pool[R]) Results() <-chan R {
	return p.results
}

// Close stops accepting tasks; Results closes once every worker exits
func (p *Pool[R]) Close() {
	close(p.tasks)
	go func() {
		p.wg.Wait()
		p.closeResults()
		p.cancel()
	}()
}

// Wait closes the pool and collects every remaining result
func (p *Pool[R]) Wait() []R {
	p.Close()
	var out []R
	for r := range p.results {
		out = append(out, r)
	}
	return out
}

// Shutdown cancels in-flight work and stops the workers
func (p *Pool[R]) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool[R]) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
