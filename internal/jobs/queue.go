// Package jobs carries embed requests from note creation to the workers
// that compute embeddings.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streed/project-notes/internal/config"
	interrors "github.com/streed/project-notes/internal/errors"
)

// EmbedJob asks a worker to embed one note.
type EmbedJob struct {
	NoteID     string    `json:"note_id"`
	ProjectID  string    `json:"project_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewEmbedJob(noteID, projectID string) EmbedJob {
	return EmbedJob{NoteID: noteID, ProjectID: projectID, EnqueuedAt: time.Now().UTC()}
}

func (j EmbedJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

func DecodeJob(data []byte) (EmbedJob, error) {
	var job EmbedJob
	if err := json.Unmarshal(data, &job); err != nil {
		return EmbedJob{}, fmt.Errorf("%w: malformed job: %v", interrors.ErrValidation, err)
	}
	if job.NoteID == "" {
		return EmbedJob{}, interrors.ErrInvalidNoteID
	}
	return job, nil
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	Job      EmbedJob  `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Handler processes one job. The queue removes the job once Handler
// returns, whatever the result; retrying is the handler's business.
type Handler func(ctx context.Context, job EmbedJob) error

// Queue delivers each job at least once.
type Queue interface {
	Enqueue(ctx context.Context, job EmbedJob) error
	// Consume blocks, passing jobs to handler one at a time, until ctx is
	// cancelled or the queue is closed. Several Consume calls may run
	// concurrently on one Queue.
	Consume(ctx context.Context, handler Handler) error
	DeadLetter(ctx context.Context, job EmbedJob, reason string) error
	Close() error
}

// New builds the queue selected by cfg.QueueBackend.
func New(ctx context.Context, cfg *config.Config) (Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueMemory, "":
		return NewMemoryQueue(0), nil
	case config.QueueRedis:
		return NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
	case config.QueueAMQP:
		return NewAMQPQueue(cfg.AMQPURL, cfg.QueueName)
	default:
		return nil, fmt.Errorf("%w: %q", interrors.ErrUnknownQueue, cfg.QueueBackend)
	}
}
