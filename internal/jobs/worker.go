package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

// NoteEmbedder embeds a single note by ID.
type NoteEmbedder interface {
	EmbedNote(ctx context.Context, noteID string) error
}

// FailureRecorder records why a note could not be embedded.
type FailureRecorder interface {
	MarkEmbeddingFailed(ctx context.Context, noteID, reason string) error
}

type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func WorkerConfigFrom(cfg *config.Config) WorkerConfig {
	return WorkerConfig{
		Concurrency: cfg.WorkerCount,
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoff(),
		BackoffCap:  constants.DefaultBackoffCap,
	}
}

// Worker consumes embed jobs. Each job gets a bounded number of attempts
// with exponential backoff; a job that still fails is dead-lettered and
// the failure is recorded on the note. Job failures never stop the worker.
type Worker struct {
	queue    Queue
	embedder NoteEmbedder
	failures FailureRecorder
	cfg      WorkerConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, embedder NoteEmbedder, failures FailureRecorder, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DefaultWorkerCount
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = constants.DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = constants.DefaultBackoffCap
	}
	return &Worker{
		queue:    queue,
		embedder: embedder,
		failures: failures,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run starts Concurrency consumers and blocks until ctx is cancelled or a
// consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Starting %d embedding workers (max %d attempts)", w.cfg.Concurrency, w.cfg.MaxAttempts)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i + 1
		g.Go(func() error {
			logger.Debug("Worker %d consuming", id)
			return w.queue.Consume(ctx, w.Process)
		})
	}
	return g.Wait()
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (w *Worker) Backoff(n int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if d > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return d
}

// Process runs one job to completion. It returns ctx.Err() if cancelled
// mid-retry and nil otherwise.
func (w *Worker) Process(ctx context.Context, job EmbedJob) error {
	var err error
	attempt := 0
	for attempt < w.cfg.MaxAttempts {
		attempt++
		err = w.embedder.EmbedNote(ctx, job.NoteID)
		if err == nil {
			logger.Debug("Embedded note %s on attempt %d", job.NoteID, attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !interrors.IsRetryable(err) {
			break
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}

		wait := w.Backoff(attempt)
		logger.Warn("Embedding note %s failed (attempt %d/%d, %s), retrying in %v: %v",
			job.NoteID, attempt, w.cfg.MaxAttempts, interrors.Kind(err), wait, err)
		if sleepErr := w.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}

	if errors.Is(err, interrors.ErrNoteNotFound) {
		logger.Info("Note %s no longer exists, dropping embed job", job.NoteID)
		return nil
	}

	logger.Error("Giving up on note %s in project %s after %d attempts (%s): %v",
		job.NoteID, job.ProjectID, attempt, interrors.Kind(err), err)

	if dlErr := w.queue.DeadLetter(ctx, job, err.Error()); dlErr != nil {
		logger.Error("Failed to dead-letter job for note %s: %v", job.NoteID, dlErr)
	}
	if w.failures != nil {
		if mErr := w.failures.MarkEmbeddingFailed(ctx, job.NoteID, err.Error()); mErr != nil {
			logger.Error("Failed to record embedding failure for note %s: %v", job.NoteID, mErr)
		}
	}
	return nil
}
