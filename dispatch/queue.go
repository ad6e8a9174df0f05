// Package dispatch provides serial execution contexts. A Queue runs posted
// functions one at a time, in order, on its own goroutine; state touched only
// from inside a Queue needs no further locking.
package dispatch

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of functions executed by one goroutine.
type Queue struct {
	name string

	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// NewQueue starts a queue.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:    name,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Name returns the queue's label.
func (q *Queue) Name() string { return q.name }

// Async schedules fn and returns immediately. It reports false once the queue
// is closed.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync runs fn on the queue and waits for it. It must not be called from a
// function already running on q.
func (q *Queue) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.Async(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-q.stopped:
		return false
	}
}

// After schedules fn on the queue once d has elapsed. Stopping the returned
// timer before it fires cancels fn.
func (q *Queue) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { q.Async(fn) })
}

// Close stops accepting work, runs what is already queued, and waits for the
// queue goroutine to exit. It must not be called from a function running on q.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
