package taskqueue

import (
	"sync"
)

// An unbounded FIFO of closures executed one at a time on a single goroutine.
//
// Queue is the single logical thread of control of a room session: every
// external event (relay delivery, candidate discovery, connectivity change,
// remote track) is posted as a task, so handlers never run concurrently with
// each other and observe events in the order they were posted.
//
// Post never blocks. This matters because transport callbacks may fire from
// inside a task (e.g. closing a connection synchronously reports its closed
// state), and a bounded channel would deadlock the loop on itself.
type Queue struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Queue a task. Tasks posted after Stop are dropped and false is returned.
func (q *Queue) Post(task func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Queue a task and block until it has run.
// Returns false without waiting if the queue is stopped.
//
// Must not be called from inside a task, since the task would wait on itself.
func (q *Queue) PostAndWait(task func()) bool {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		task()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-q.done:
		// The queue stopped with our task still pending
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Run executes tasks until Stop is called. Run must be called exactly once.
func (q *Queue) Run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.stopped {
			q.tasks = nil
			q.mu.Unlock()
			return
		}
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, task := range batch {
			// Remaining tasks in the batch are dropped, like anything posted after Stop
			if q.isStopped() {
				return
			}
			task()
		}

		if len(batch) == 0 {
			<-q.wake
		}
	}
}

// Stop the queue. Pending tasks that have not started are dropped.
// Stop is idempotent and does not wait for the running task to finish; use Done for that.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}
