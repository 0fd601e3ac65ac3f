package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Threads runs tasks on worker goroutines inside the service process.
type Threads struct {
	exec    ExecFunc
	tasks   chan Task
	results chan Result
	skip    atomic.Bool
	wg      sync.WaitGroup
	once    sync.Once
}

// NewThreads starts width workers draining a queue of the given capacity.
func NewThreads(capacity, width int, exec ExecFunc) *Threads {
	if capacity < 1 {
		capacity = 1
	}
	p := &Threads{
		exec:    exec,
		tasks:   make(chan Task, capacity),
		results: make(chan Result, capacity),
	}
	for range max(1, width) {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
	return p
}

func (p *Threads) Submit(t Task) {
	p.tasks <- t
}

func (p *Threads) Results() <-chan Result {
	return p.results
}

func (p *Threads) CancelPending() {
	p.skip.Store(true)
}

func (p *Threads) Close() {
	p.once.Do(func() { close(p.tasks) })
}

func (p *Threads) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		if p.skip.Load() {
			continue
		}
		p.results <- p.run(t)
	}
}

// run shields the worker loop from a panicking exec.
func (p *Threads) run(t Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Out: t.Dst, Err: fmt.Sprintf("panic: %v", r)}
		}
	}()
	// In-flight tasks are never interrupted, so no cancellable context.
	return p.exec(context.Background(), t)
}

// ThreadFactory binds the thread strategy with the given width.
func ThreadFactory(width int, exec ExecFunc) Factory {
	return func(capacity int) Pool { return NewThreads(capacity, width, exec) }
}
