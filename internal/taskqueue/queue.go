// Package taskqueue caps how many calls against a named external resource run
// at once. Tasks past the cap wait in FIFO order for a freed slot.
package taskqueue

import (
	"context"
	"errors"
	"sync"
)

// DefaultLimit matches the provider-side concurrency we are comfortable
// sending to a single model endpoint.
const DefaultLimit = 3

type waiter struct {
	ready chan struct{}
}

// Queue bounds concurrent execution per resource key. The zero value is not
// usable; construct with New.
type Queue struct {
	mu      sync.Mutex
	limit   int
	running map[string]int
	waiting map[string][]*waiter
}

// New creates a queue allowing at most limit concurrent tasks per resource
// key. A non-positive limit falls back to DefaultLimit.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{
		limit:   limit,
		running: make(map[string]int),
		waiting: make(map[string][]*waiter),
	}
}

// Do runs task under the concurrency cap for key, blocking until a slot is
// available. The task's error is returned to this caller only; a failing task
// never blocks the queue and its slot is freed regardless of outcome.
func (q *Queue) Do(ctx context.Context, key string, task func() error) error {
	if task == nil {
		return errors.New("taskqueue: nil task")
	}
	if err := q.acquire(ctx, key); err != nil {
		return err
	}
	defer q.release(key)
	return task()
}

// Running reports how many tasks currently hold a slot for key.
func (q *Queue) Running(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running[key]
}

// Queued reports how many tasks are waiting for a slot for key.
func (q *Queue) Queued(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting[key])
}

func (q *Queue) acquire(ctx context.Context, key string) error {
	q.mu.Lock()
	if q.running[key] < q.limit {
		q.running[key]++
		q.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	q.waiting[key] = append(q.waiting[key], w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		if q.removeWaiter(key, w) {
			q.mu.Unlock()
			return ctx.Err()
		}
		q.mu.Unlock()
		// The slot was handed over while we were cancelling; give it back.
		q.release(key)
		return ctx.Err()
	}
}

// release frees one slot for key, handing it directly to the oldest waiter if
// one exists so FIFO order holds.
func (q *Queue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ws := q.waiting[key]; len(ws) > 0 {
		next := ws[0]
		q.waiting[key] = ws[1:]
		if len(q.waiting[key]) == 0 {
			delete(q.waiting, key)
		}
		close(next.ready)
		return
	}
	if q.running[key] <= 1 {
		delete(q.running, key)
		return
	}
	q.running[key]--
}

func (q *Queue) removeWaiter(key string, target *waiter) bool {
	ws := q.waiting[key]
	for i, w := range ws {
		if w == target {
			q.waiting[key] = append(ws[:i], ws[i+1:]...)
			if len(q.waiting[key]) == 0 {
				delete(q.waiting, key)
			}
			return true
		}
	}
	return false
}
