package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/streed/project-notes/internal/config"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/jobs"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
	"github.com/streed/project-notes/internal/project"
	"github.com/streed/project-notes/internal/search"
)

// ProjectPurger is implemented by note stores that keep project data
// outside the SQLite cascade (the memory store, the Qdrant collection).
type ProjectPurger interface {
	DeleteProject(ctx context.Context, projectID string) error
}

// Services contains all the service dependencies
type Services struct {
	Config   *config.Config
	Projects *ProjectsService
	Notes    *NotesService
	Search   *SearchService
	Indexer  *search.Indexer
	Queue    jobs.Queue
	Store    models.NoteStore

	pingers []func(ctx context.Context) error
	closers []func() error
}

// NewServices wires the services over already constructed stores. Build
// does the construction from configuration.
func NewServices(
	cfg *config.Config,
	projects project.Store,
	store models.NoteStore,
	indexer *search.Indexer,
	searcher *search.Service,
	queue jobs.Queue,
) *Services {
	var purger ProjectPurger
	if p, ok := store.(ProjectPurger); ok {
		purger = p
	}

	return &Services{
		Config:   cfg,
		Projects: NewProjectsService(projects, purger),
		Notes:    NewNotesService(projects, store, queue, indexer),
		Search:   NewSearchService(searcher),
		Indexer:  indexer,
		Queue:    queue,
		Store:    store,
	}
}

// NewWorker builds an embedding worker over the container's queue.
func (s *Services) NewWorker() *jobs.Worker {
	return jobs.NewWorker(s.Queue, s.Indexer, s.Store, jobs.WorkerConfigFrom(s.Config))
}

// Close releases the queue, the vector store and the database, in that
// order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks the backing database, if any.
func (s *Services) Ping(ctx context.Context) error {
	for _, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// ProjectsService handles project operations
type ProjectsService struct {
	store  project.Store
	purger ProjectPurger
}

func NewProjectsService(store project.Store, purger ProjectPurger) *ProjectsService {
	return &ProjectsService{store: store, purger: purger}
}

func (s *ProjectsService) Create(ctx context.Context, name, description string) (*project.Project, error) {
	p, err := s.store.Create(ctx, name, description)
	if err != nil {
		return nil, err
	}
	logger.Info("Created project %s", p.ID)
	return p, nil
}

func (s *ProjectsService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.Get(ctx, id)
}

func (s *ProjectsService) List(ctx context.Context) ([]*project.Project, error) {
	return s.store.List(ctx)
}

func (s *ProjectsService) Exists(ctx context.Context, id string) (bool, error) {
	return s.store.Exists(ctx, id)
}

// Delete removes a project and every note it owns.
func (s *ProjectsService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.purger != nil {
		if err := s.purger.DeleteProject(ctx, id); err != nil {
			return fmt.Errorf("project %s deleted but its notes could not be purged: %w", id, err)
		}
	}
	logger.Info("Deleted project %s", id)
	return nil
}

// NotesService handles note operations
type NotesService struct {
	projects project.Store
	store    models.NoteStore
	queue    jobs.Queue
	indexer  *search.Indexer
}

func NewNotesService(projects project.Store, store models.NoteStore, queue jobs.Queue, indexer *search.Indexer) *NotesService {
	return &NotesService{
		projects: projects,
		store:    store,
		queue:    queue,
		indexer:  indexer,
	}
}

func (s *NotesService) requireProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return interrors.ErrInvalidProjectID
	}
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to check project %s: %w", projectID, err)
	}
	if !exists {
		return interrors.ErrProjectNotFound
	}
	return nil
}

// Create persists the note and schedules its embedding. The note is
// returned even if scheduling fails; it stays unembedded until
// `reindex --pending` picks it up.
func (s *NotesService) Create(ctx context.Context, projectID, content string) (*models.Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, interrors.ErrEmptyContent
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	note, err := s.store.Create(ctx, projectID, content)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, jobs.NewEmbedJob(note.ID, note.ProjectID)); err != nil {
		logger.Warn("Failed to enqueue embedding for note %s in project %s: %v", note.ID, projectID, err)
	} else {
		logger.Debug("Enqueued embedding for note %s", note.ID)
	}
	return note, nil
}

func (s *NotesService) Get(ctx context.Context, id string) (*models.Note, error) {
	if strings.TrimSpace(id) == "" {
		return nil, interrors.ErrInvalidNoteID
	}
	return s.store.GetByID(ctx, id)
}

func (s *NotesService) List(ctx context.Context, projectID string, limit, offset int) ([]*models.Note, error) {
	if limit < 0 || offset < 0 {
		return nil, interrors.ErrInvalidLimit
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListByProject(ctx, projectID, limit, offset)
}

// EnqueuePending schedules an embed job for every unembedded note. An
// empty projectID covers all projects.
func (s *NotesService) EnqueuePending(ctx context.Context, projectID string) (int, error) {
	pending, err := s.store.ListUnembedded(ctx, projectID, 0)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, note := range pending {
		if err := s.queue.Enqueue(ctx, jobs.NewEmbedJob(note.ID, note.ProjectID)); err != nil {
			return queued, fmt.Errorf("failed to enqueue note %s: %w", note.ID, err)
		}
		queued++
	}
	logger.Info("Enqueued %d pending notes", queued)
	return queued, nil
}

// ReindexResult summarises a synchronous reindex.
type ReindexResult struct {
	Embedded int
	Failed   int
}

// EmbedPending embeds every unembedded note in the calling goroutine. It
// serves the CLI when the queue lives in process and would not outlive
// the command.
func (s *NotesService) EmbedPending(ctx context.Context, projectID string, progress func(note *models.Note, err error)) (ReindexResult, error) {
	var result ReindexResult
	pending, err := s.store.ListUnembedded(ctx, projectID, 0)
	if err != nil {
		return result, err
	}

	for _, note := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := s.indexer.EmbedNote(ctx, note.ID)
		if err != nil {
			result.Failed++
			if ferr := s.store.MarkEmbeddingFailed(ctx, note.ID, err.Error()); ferr != nil {
				logger.Warn("Failed to record embedding failure for note %s: %v", note.ID, ferr)
			}
		} else {
			result.Embedded++
		}
		if progress != nil {
			progress(note, err)
		}
	}
	return result, nil
}

// ReembedAll recomputes the embedding of every note of projectID in the
// calling goroutine. progress, if set, is called after each note.
func (s *NotesService) ReembedAll(ctx context.Context, projectID string, progress func(note *models.Note, err error)) (ReindexResult, error) {
	var result ReindexResult
	if err := s.requireProject(ctx, projectID); err != nil {
		return result, err
	}

	notes, err := s.store.ListByProject(ctx, projectID, 0, 0)
	if err != nil {
		return result, err
	}

	for _, note := range notes {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := s.indexer.ReembedNote(ctx, note.ID)
		if err != nil {
			result.Failed++
			logger.Error("Failed to reindex note %s: %v", note.ID, err)
		} else {
			result.Embedded++
		}
		if progress != nil {
			progress(note, err)
		}
	}
	return result, nil
}

// SearchService handles search operations
type SearchService struct {
	searcher *search.Service
}

func NewSearchService(searcher *search.Service) *SearchService {
	return &SearchService{searcher: searcher}
}

// Search returns the nearest embedded notes of a project. Provider
// failures are logged here with the project and failing stage so that
// outer layers can answer with a generic message.
func (s *SearchService) Search(ctx context.Context, projectID, query string, limit int) ([]models.ScoredNote, error) {
	results, err := s.searcher.Search(ctx, projectID, query, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("Search in project %s cancelled", projectID)
		} else if errors.Is(err, interrors.ErrProvider) {
			logger.Error("Search in project %s failed at embed stage: %v", projectID, err)
		} else if interrors.Kind(err) == "internal" {
			logger.Error("Search in project %s failed at lookup stage: %v", projectID, err)
		}
		return nil, err
	}
	return results, nil
}
