// Package diskqueue runs potentially blocking tasks on a shared, bounded pool of workers.
//
// Work is submitted to a Lane. Each torrent owns one lane. Tasks of a lane run one at a time in submission order,
// while tasks of different lanes run in parallel on the pool's workers.
package diskqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned from Submit after the pool is closed.
var ErrClosed = errors.New("disk queue is closed")

// Task is a unit of work.
// The context is cancelled only when the pool is closing.
type Task func(ctx context.Context)

// Pool is a fixed number of workers with an unbounded queue of ready lanes.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	m       sync.Mutex
	cond    *sync.Cond
	ready   []*Lane
	closed  bool
	queued  int
	running int

	wg sync.WaitGroup
}

// NewPool starts a pool with n workers.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
	}
	p.cond = sync.NewCond(&p.m)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// NewLane returns a new serialized lane that runs its tasks on this pool.
func (p *Pool) NewLane() *Lane {
	return &Lane{pool: p}
}

// Queued returns the number of tasks waiting to run.
func (p *Pool) Queued() int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.queued
}

// Running returns the number of tasks running at the moment.
func (p *Pool) Running() int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.running
}

// Close stops accepting new tasks and cancels the context given to running tasks.
// Tasks that are already queued are still run. Close waits until all workers exit.
func (p *Pool) Close() {
	p.m.Lock()
	if p.closed {
		p.m.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.m.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.m.Lock()
		for len(p.ready) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.ready) == 0 {
			p.m.Unlock()
			return
		}
		l := p.ready[0]
		p.ready[0] = nil
		p.ready = p.ready[1:]
		task := l.pop()
		p.queued--
		p.running++
		p.m.Unlock()

		task(p.ctx)

		p.m.Lock()
		p.running--
		if len(l.tasks) > 0 {
			p.ready = append(p.ready, l)
			p.cond.Signal()
		} else {
			l.scheduled = false
		}
		p.m.Unlock()
	}
}

// Lane is a serialized sequence of tasks.
// Its fields are protected by the pool's mutex.
type Lane struct {
	pool      *Pool
	tasks     []Task
	scheduled bool
}

// Submit adds a task to the end of the lane.
// It never blocks on running tasks.
func (l *Lane) Submit(t Task) error {
	p := l.pool
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed {
		return ErrClosed
	}
	l.tasks = append(l.tasks, t)
	p.queued++
	if !l.scheduled {
		l.scheduled = true
		p.ready = append(p.ready, l)
		p.cond.Signal()
	}
	return nil
}

// Len returns the number of tasks waiting in the lane, excluding a running one.
func (l *Lane) Len() int {
	l.pool.m.Lock()
	defer l.pool.m.Unlock()
	return len(l.tasks)
}

func (l *Lane) pop() Task {
	t := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return t
}
