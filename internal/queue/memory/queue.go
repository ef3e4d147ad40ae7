// Package memory provides a queue implementation for local development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/storepulse/appscraper/internal/scrape"
)

// Queue is a bounded in-memory job queue with context-aware operations.
type Queue struct {
	ch      chan scrape.Job
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan scrape.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job scrape.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Job, error) {
	select {
	case <-ctx.Done():
		return scrape.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return scrape.Job{}, errors.New("queue closed")
		}
		return job, nil
	}
}

// Len reports the number of jobs currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
