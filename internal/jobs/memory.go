package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
)

// MemoryQueue is a buffered channel. Jobs do not survive a restart; notes
// left unembedded are picked up by reindex --pending.
type MemoryQueue struct {
	jobs chan EmbedJob

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	dead   []DeadLetter
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = constants.DefaultQueueBuffer
	}
	return &MemoryQueue{
		jobs: make(chan EmbedJob, buffer),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job EmbedJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return interrors.ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return interrors.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case job := <-q.jobs:
			_ = handler(ctx, job)
		}
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job EmbedJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	return nil
}

// DeadLetters returns a copy of the dead-lettered jobs.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Len is the number of jobs waiting.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
