// Package parallel provides the worker pool that fans a mini-batch out across
// goroutines and joins it again before gradients are applied.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when work is submitted to a pool after Close.
	ErrClosed = errors.New("parallel: pool is closed")
	// ErrTaskPanic wraps a panic recovered from a task.
	ErrTaskPanic = errors.New("parallel: task panicked")
)

// DefaultWorkers returns the number of logical cores, falling back to
// runtime.NumCPU when cpuid cannot tell.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Pool is a fixed set of worker goroutines. It is created once, shared by
// everything that trains, and closed once by its owner.
type Pool struct {
	tasks chan func()
	size  int

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. workers <= 0 selects DefaultWorkers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	p := &Pool{
		tasks: make(chan func()),
		size:  workers,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Close stops accepting work and waits for the workers to drain. Safe to call
// more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Pool) submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.tasks <- task
	return nil
}

// Group returns a new join point for a set of tasks.
func (p *Pool) Group() *Group {
	return &Group{pool: p}
}

// For runs body(i) for every i in [0, n) on the pool and blocks until all of
// them have returned. The first error wins; tasks not yet started when an
// error is recorded are skipped.
func (p *Pool) For(n int, body func(i int) error) error {
	g := p.Group()
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return body(i) })
	}
	return g.Wait()
}

// Group tracks the tasks of one batch. It must not be reused after Wait.
type Group struct {
	pool   *Pool
	wg     sync.WaitGroup
	failed atomic.Bool
	once   sync.Once
	err    error
}

// Go submits task to the pool. It blocks while every worker is busy.
func (g *Group) Go(task func() error) {
	g.wg.Add(1)
	err := g.pool.submit(func() {
		defer g.wg.Done()
		if g.failed.Load() {
			return
		}
		if err := run(task); err != nil {
			g.fail(err)
		}
	})
	if err != nil {
		g.wg.Done()
		g.fail(err)
	}
}

// Wait blocks until every submitted task is done and returns the first error.
func (g *Group) Wait() error {
	g.wg.Wait()
	return g.err
}

func (g *Group) fail(err error) {
	g.once.Do(func() {
		g.err = err
		g.failed.Store(true)
	})
}

func run(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrTaskPanic, "%v", r)
		}
	}()
	return task()
}
