package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Enqueued is one scheduled advancement
type Enqueued struct {
	DebateID uuid.UUID
	Delay    time.Duration
}

// Queue records advancement requests in FIFO order
type Queue struct {
	mu    sync.Mutex
	items []Enqueued
	err   error
}

// NewQueue returns an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// FailWith makes every later EnqueueAdvance return err
func (q *Queue) FailWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

// EnqueueAdvance implements progression.Enqueuer
func (q *Queue) EnqueueAdvance(ctx context.Context, debateID uuid.UUID, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, Enqueued{DebateID: debateID, Delay: delay})
	return nil
}

// Pop removes the oldest request
func (q *Queue) Pop() (Enqueued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Enqueued{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len is the number of pending requests
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
