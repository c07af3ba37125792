package services

import (
	"context"
	"fmt"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/database"
	"github.com/streed/project-notes/internal/embeddings"
	"github.com/streed/project-notes/internal/jobs"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
	"github.com/streed/project-notes/internal/project"
	"github.com/streed/project-notes/internal/search"
	"github.com/streed/project-notes/internal/vectorstore/qdrant"
)

type buildOptions struct {
	embedder embeddings.Embedder
	queue    jobs.Queue
}

type BuildOption func(*buildOptions)

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embeddings.Embedder) BuildOption {
	return func(o *buildOptions) { o.embedder = e }
}

// WithQueue replaces the configured job queue.
func WithQueue(q jobs.Queue) BuildOption {
	return func(o *buildOptions) { o.queue = q }
}

// Build constructs every collaborator from cfg: the embedding client, the
// project and note stores for cfg.VectorBackend, and the job queue. A
// missing provider credential fails here, before anything is served.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*Services, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	metric, err := embeddings.ParseMetric(cfg.DistanceMetric)
	if err != nil {
		return nil, err
	}

	embedder := o.embedder
	if embedder == nil {
		client, err := embeddings.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		embedder = client
	}

	s := &Services{}
	fail := func(err error) (*Services, error) {
		s.Close()
		return nil, err
	}

	var (
		projects project.Store
		store    models.NoteStore
	)
	switch cfg.VectorBackend {
	case config.BackendMemory:
		memProjects := project.NewMemoryStore()
		projects = memProjects
		store = models.NewMemoryNoteStore(cfg.VectorDimensions, metric, models.WithProjectChecker(memProjects))
		logger.Debug("Using in-memory note store")

	case config.BackendSQLite, config.BackendQdrant:
		db, err := database.New(cfg)
		if err != nil {
			return fail(err)
		}
		s.onClose(db.Close)
		s.pingers = append(s.pingers, db.Ping)

		projects = project.NewRepository(db.Conn())
		repo := models.NewNoteRepository(db.Conn(), models.NoteRepositoryConfig{
			Dimensions:   cfg.VectorDimensions,
			Metric:       metric,
			UseSQLiteVec: db.VecAvailable(),
		})
		store = repo

		if cfg.VectorBackend == config.BackendQdrant {
			client, err := qdrant.New(qdrant.Config{
				URL:            cfg.QdrantURL,
				APIKey:         cfg.QdrantAPIKey,
				CollectionName: cfg.QdrantCollection,
				Dimensions:     cfg.VectorDimensions,
				Metric:         metric,
			})
			if err != nil {
				return fail(err)
			}
			s.onClose(client.Close)
			if err := client.EnsureCollection(ctx); err != nil {
				return fail(err)
			}
			store = qdrant.NewNoteStore(repo, client)
			logger.Debug("Using qdrant collection %s", cfg.QdrantCollection)
		}

	default:
		return fail(fmt.Errorf("unsupported vector backend %q", cfg.VectorBackend))
	}

	queue := o.queue
	if queue == nil {
		queue, err = jobs.New(ctx, cfg)
		if err != nil {
			return fail(err)
		}
	}
	s.onClose(queue.Close)

	indexer := search.NewIndexer(store, embedder)
	searcher := search.NewService(projects, store, embedder, cfg.SearchLimit)

	built := NewServices(cfg, projects, store, indexer, searcher, queue)
	built.closers = s.closers
	built.pingers = s.pingers
	return built, nil
}
