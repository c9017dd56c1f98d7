// Package queue feeds job identifiers between the API and the worker through
// a Redis list. The database row is the source of truth; the list only wakes
// workers up.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when the wait times out with no job.
var ErrEmpty = errors.New("queue: no job available")

// Queue is a Redis-list-backed job feed.
type Queue struct {
	rdb  *redis.Client
	list string
}

// New wraps a Redis client as a job feed on the given list key.
func New(rdb *redis.Client, list string) *Queue {
	return &Queue{rdb: rdb, list: list}
}

// Enqueue pushes a job ID for workers to pick up.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, q.list, jobID).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job ID. A zero timeout blocks
// until a job arrives or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.list).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("queue: dequeue: %w", err)
	}
	// BRPOP returns [list, value].
	if len(result) != 2 {
		return "", fmt.Errorf("queue: unexpected BRPOP reply %v", result)
	}
	return result[1], nil
}
