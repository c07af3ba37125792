package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
)

// NoteStore keeps note rows in the wrapped store and their vectors in
// Qdrant. The wrapped store stays the source of truth for note status.
type NoteStore struct {
	models.NoteStore
	client *Client
}

func NewNoteStore(base models.NoteStore, client *Client) *NoteStore {
	return &NoteStore{NoteStore: base, client: client}
}

// AttachEmbedding upserts the Qdrant point first and only then stores the
// vector on the row. A failed upsert leaves the note unembedded, so a
// retried job is not skipped as already done.
func (s *NoteStore) AttachEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 || (s.client.dimensions > 0 && len(embedding) != s.client.dimensions) {
		return fmt.Errorf("%w: got %d, expected %d", interrors.ErrDimensionMismatch, len(embedding), s.client.dimensions)
	}

	note, err := s.NoteStore.GetByID(ctx, id)
	if err != nil {
		return err
	}

	wait := true
	_, err = s.client.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.client.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(note.ID),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadProjectID: note.ProjectID,
				payloadCreatedAt: note.CreatedAt.UnixNano(),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed for note %s: %w", id, err)
	}

	return s.NoteStore.AttachEmbedding(ctx, id, embedding)
}

// FindNearest queries Qdrant with a project_id filter and hydrates the hits
// from the row store. Points whose row is gone or unembedded are dropped.
//
// Qdrant orders equal scores by its own rules, so pages are fetched until
// the last point is strictly farther than the current cut-off. Every note
// tied at the cut is then ordered by created_at, id here.
func (s *NoteStore) FindNearest(ctx context.Context, projectID string, query []float32, limit int) ([]models.ScoredNote, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, interrors.ErrInvalidProjectID
	}
	if len(query) == 0 || (s.client.dimensions > 0 && len(query) != s.client.dimensions) {
		return nil, fmt.Errorf("%w: got %d, expected %d", interrors.ErrDimensionMismatch, len(query), s.client.dimensions)
	}
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	if limit > constants.MaxSearchLimit {
		limit = constants.MaxSearchLimit
	}

	pageSize := uint64(limit * 2)
	var offset uint64
	var results []models.ScoredNote
	for {
		page := pageSize
		pageOffset := offset
		points, err := s.client.points.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.client.collection,
			Query:          qdrant.NewQuery(query...),
			Filter:         projectFilter(projectID),
			Limit:          &page,
			Offset:         &pageOffset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant query failed: %w", err)
		}

		results, err = s.hydrate(ctx, projectID, points, results)
		if err != nil {
			return nil, err
		}
		if uint64(len(points)) < pageSize {
			break
		}

		models.SortScored(results)
		last := toDistance(s.client.metric, points[len(points)-1].GetScore())
		if len(results) >= limit && last > results[limit-1].Distance {
			break
		}
		offset += pageSize
	}

	models.SortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []models.ScoredNote{}
	}
	return results, nil
}

func (s *NoteStore) hydrate(ctx context.Context, projectID string, points []*qdrant.ScoredPoint, results []models.ScoredNote) ([]models.ScoredNote, error) {
	for _, point := range points {
		id := point.GetId().GetUuid()
		if id == "" {
			continue
		}
		note, err := s.NoteStore.GetByID(ctx, id)
		if errors.Is(err, interrors.ErrNotFound) {
			logger.Debug("Qdrant point %s has no note row, skipping", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if note.ProjectID != projectID || note.Status() != models.StatusEmbedded {
			continue
		}
		results = append(results, models.ScoredNote{
			Note:     note,
			Distance: toDistance(s.client.metric, point.GetScore()),
		})
	}
	return results, nil
}

// DeleteProject removes every point of a project. Row deletion is handled
// by the project store's cascade.
func (s *NoteStore) DeleteProject(ctx context.Context, projectID string) error {
	wait := true
	_, err := s.client.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.client.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(projectFilter(projectID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete failed for project %s: %w", projectID, err)
	}
	return nil
}

var _ models.NoteStore = (*NoteStore)(nil)
