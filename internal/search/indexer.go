package search

import (
	"context"
	"fmt"

	"github.com/streed/project-notes/internal/embeddings"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
)

// Indexer computes and stores the embedding of a single note.
type Indexer struct {
	store    models.NoteStore
	embedder embeddings.Embedder
}

func NewIndexer(store models.NoteStore, embedder embeddings.Embedder) *Indexer {
	return &Indexer{store: store, embedder: embedder}
}

// EmbedNote embeds a note that has no embedding yet. Notes that are already
// embedded are left alone, so redelivered jobs cost no provider call.
func (ix *Indexer) EmbedNote(ctx context.Context, noteID string) error {
	return ix.embed(ctx, noteID, false)
}

// ReembedNote recomputes the embedding even if one is present. Used after
// the embedding model changes.
func (ix *Indexer) ReembedNote(ctx context.Context, noteID string) error {
	return ix.embed(ctx, noteID, true)
}

func (ix *Indexer) embed(ctx context.Context, noteID string, force bool) error {
	note, err := ix.store.GetByID(ctx, noteID)
	if err != nil {
		return err
	}
	if !force && note.Status() == models.StatusEmbedded {
		logger.Debug("Note %s already embedded, skipping", noteID)
		return nil
	}

	vector, err := ix.embedder.Embed(ctx, note.Content, embeddings.EmbeddingTypeDocument)
	if err != nil {
		return fmt.Errorf("failed to embed note %s: %w", noteID, err)
	}

	if err := ix.store.AttachEmbedding(ctx, noteID, vector); err != nil {
		return fmt.Errorf("failed to attach embedding to note %s: %w", noteID, err)
	}

	logger.Debug("Indexed note %s (%d dimensions)", noteID, len(vector))
	return nil
}
