// Package joinqueue runs a stream of heterogeneous tasks with a fixed ceiling on
// how many execute at once and hands back results in completion order.
package joinqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTaskPanicked wraps the value recovered from a task that panicked.
var ErrTaskPanicked = errors.New("joinqueue: task panicked")

// Result carries the outcome of one task. Value holds whatever the task
// returned, even when Err is set.
type Result[T any] struct {
	Value T
	Err   error
}

type taskKind int

const (
	taskAsync taskKind = iota
	taskBlocking
)

type queuedTask[T any] struct {
	kind     taskKind
	async    func(context.Context) (T, error)
	blocking func() (T, error)
}

// Queue starts at most maxConcurrent tasks at a time. Tasks that arrive while
// every slot is taken wait in a FIFO backlog; the oldest waiting task is the
// next one promoted, both when a slot frees up and when Next drains the backlog
// with nothing in flight.
//
// Blocking tasks run through the shared BlockingPool. Async tasks run on their
// own goroutine with the context supplied to New, detached from its
// cancellation: once started, a task always runs to completion.
type Queue[T any] struct {
	ctx           context.Context
	pool          *BlockingPool
	maxConcurrent int

	mu      sync.Mutex
	running int
	backlog []queuedTask[T]
	results chan Result[T]
}

// New builds a queue. A maxConcurrent of zero starts nothing eagerly: every task
// is backlogged and executed inline by Next, one at a time. A nil pool uses the
// process-wide default pool.
func New[T any](ctx context.Context, maxConcurrent int, pool *BlockingPool) *Queue[T] {
	if maxConcurrent < 0 {
		maxConcurrent = 0
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Queue[T]{
		ctx:           context.WithoutCancel(ctx),
		pool:          poolOrDefault(pool),
		maxConcurrent: maxConcurrent,
		results:       make(chan Result[T], maxConcurrent),
	}
}

// Enqueue schedules an async task. It reports true when the task started right
// away and false when it was backlogged.
func (q *Queue[T]) Enqueue(task func(context.Context) (T, error)) bool {
	return q.submit(queuedTask[T]{kind: taskAsync, async: task})
}

// EnqueueBlocking schedules a CPU-bound closure. It reports true when the task
// started right away and false when it was backlogged.
func (q *Queue[T]) EnqueueBlocking(task func() (T, error)) bool {
	return q.submit(queuedTask[T]{kind: taskBlocking, blocking: task})
}

func (q *Queue[T]) submit(task queuedTask[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running < q.maxConcurrent {
		q.startLocked(task)
		return true
	}
	q.backlog = append(q.backlog, task)
	return false
}

// Next waits for the next task to finish and returns its result, then refills
// free slots from the backlog. When nothing is running but tasks are waiting,
// the oldest one runs inline before the refill. The boolean is false once both
// the running set and the backlog are empty.
//
// If ctx ends first Next returns the context error and false; tasks that are
// already running keep going and their results stay available to later calls.
func (q *Queue[T]) Next(ctx context.Context) (Result[T], bool) {
	q.mu.Lock()
	if q.running > 0 {
		q.mu.Unlock()
		select {
		case result := <-q.results:
			q.mu.Lock()
			q.running--
			q.fillLocked()
			q.mu.Unlock()
			return result, true
		case <-ctx.Done():
			return Result[T]{Err: ctx.Err()}, false
		}
	}

	if len(q.backlog) == 0 {
		q.mu.Unlock()
		return Result[T]{}, false
	}
	task := q.popLocked()
	q.mu.Unlock()

	result := q.execute(task)

	q.mu.Lock()
	q.fillLocked()
	q.mu.Unlock()
	return result, true
}

// Running reports how many tasks are executing.
func (q *Queue[T]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Backlog reports how many tasks are waiting for a slot.
func (q *Queue[T]) Backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *Queue[T]) popLocked() queuedTask[T] {
	task := q.backlog[0]
	q.backlog[0] = queuedTask[T]{}
	q.backlog = q.backlog[1:]
	return task
}

func (q *Queue[T]) fillLocked() {
	for q.running < q.maxConcurrent && len(q.backlog) > 0 {
		q.startLocked(q.popLocked())
	}
}

func (q *Queue[T]) startLocked(task queuedTask[T]) {
	q.running++
	go func() {
		q.results <- q.execute(task)
	}()
}

func (q *Queue[T]) execute(task queuedTask[T]) Result[T] {
	if task.kind == taskAsync {
		return guard(func() (T, error) { return task.async(q.ctx) })
	}

	var result Result[T]
	if err := q.pool.Do(q.ctx, func() {
		result = guard(task.blocking)
	}); err != nil {
		return Result[T]{Err: err}
	}
	return result
}

func guard[T any](fn func() (T, error)) (result Result[T]) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Result[T]{Err: fmt.Errorf("%w: %v", ErrTaskPanicked, recovered)}
		}
	}()
	value, err := fn()
	return Result[T]{Value: value, Err: err}
}
