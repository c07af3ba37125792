package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
)

// ProjectLookup reports whether a project exists.
type ProjectLookup interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// Service answers project-scoped similarity queries. It holds no state of
// its own beyond its collaborators.
type Service struct {
	projects     ProjectLookup
	store        models.NoteStore
	embedder     embeddings.Embedder
	defaultLimit int
}

func NewService(projects ProjectLookup, store models.NoteStore, embedder embeddings.Embedder, defaultLimit int) *Service {
	return &Service{
		projects:     projects,
		store:        store,
		embedder:     embedder,
		defaultLimit: defaultLimit,
	}
}

// Search embeds query and returns the nearest embedded notes of projectID,
// closest first. An empty result means the project has no embedded notes.
// A provider failure is returned as an error, never as an empty result.
func (s *Service) Search(ctx context.Context, projectID, query string, limit int) ([]models.ScoredNote, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, interrors.ErrInvalidProjectID
	}
	if strings.TrimSpace(query) == "" {
		return nil, interrors.ErrEmptyQuery
	}
	if limit < 0 {
		return nil, interrors.ErrInvalidLimit
	}
	if limit == 0 {
		limit = s.defaultLimit
	}

	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check project %s: %w", projectID, err)
	}
	if !exists {
		return nil, interrors.ErrProjectNotFound
	}

	vector, err := s.embedder.Embed(ctx, query, embeddings.EmbeddingTypeSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.FindNearest(ctx, projectID, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour lookup failed: %w", err)
	}

	logger.Debug("Search in project %s returned %d notes", projectID, len(results))
	return results, nil
}

// Notes strips distances from results, keeping their order.
func Notes(results []models.ScoredNote) []*models.Note {
	notes := make([]*models.Note, len(results))
	for i, r := range results {
		notes[i] = r.Note
	}
	return notes
}
