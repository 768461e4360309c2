package queue

import (
	"context"
	"errors"
	"sync"
)

// Job is one unit of pipeline work. Jobs sharing a Group de-duplicate:
// enqueueing a job cancels any job of the same group that is still
// queued or running.
type Job struct {
	Group string

	Run      func(ctx context.Context) error
	OnFail   func(error)
	OnCancel func()
}

type Queue struct {
	jobs    chan *entry
	quit    chan struct{}
	workers int

	mu     sync.Mutex
	active map[string]*entry // latest job per group, queued or running

	wg sync.WaitGroup
}

type entry struct {
	job    Job
	ctx    context.Context
	cancel context.CancelFunc
}

func NewQueue(size, workers int) *Queue {
	return &Queue{
		jobs:    make(chan *entry, size),
		quit:    make(chan struct{}),
		workers: workers,
		active:  make(map[string]*entry),
	}
}

// Enqueue never blocks; it reports false when the queue is full. Only
// once the job has a slot is the previous in-flight job of the same
// group cancelled: a shed job must not take its predecessor down with
// it.
func (q *Queue) Enqueue(job Job) bool {
	e := &entry{job: job}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.jobs <- e:
	default:
		e.cancel()
		return false
	}

	if prev := q.active[job.Group]; prev != nil {
		prev.cancel()
	}
	q.active[job.Group] = e
	return true
}

// Start launches the worker pool in the background.
func (q *Queue) Start() {
	for range q.workers {
		q.wg.Add(1)
		go q.run()
	}
}

// Stop waits for in-flight jobs to finish. Queued jobs are dropped.
func (q *Queue) Stop() {
	close(q.quit)
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case e := <-q.jobs:
			q.process(e)
		}
	}
}

func (q *Queue) process(e *entry) {
	defer q.retire(e)

	// superseded while still queued: never started, only cancelled
	if e.ctx.Err() != nil {
		if e.job.OnCancel != nil {
			e.job.OnCancel()
		}
		return
	}

	err := e.job.Run(e.ctx)
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) || e.ctx.Err() != nil {
		if e.job.OnCancel != nil {
			e.job.OnCancel()
		}
		return
	}

	if e.job.OnFail != nil {
		e.job.OnFail(err)
	}
}

func (q *Queue) retire(e *entry) {
	q.mu.Lock()
	if q.active[e.job.Group] == e {
		delete(q.active, e.job.Group)
	}
	q.mu.Unlock()
	e.cancel()
}
