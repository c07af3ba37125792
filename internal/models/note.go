package models

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
)

// NoteStatus is the search visibility of a note. A note moves from
// StatusCreated to StatusEmbedded once, and never back.
type NoteStatus string

const (
	StatusCreated  NoteStatus = "created"
	StatusEmbedded NoteStatus = "embedded"
)

type Note struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	EmbeddingError string    `json:"embedding_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (n *Note) Status() NoteStatus {
	if len(n.Embedding) > 0 {
		return StatusEmbedded
	}
	return StatusCreated
}

func (n *Note) MarshalJSON() ([]byte, error) {
	type plain Note
	return json.Marshal(struct {
		*plain
		Status NoteStatus `json:"status"`
	}{(*plain)(n), n.Status()})
}

// Preview returns at most constants.PreviewLength runes of the content.
func (n *Note) Preview() string {
	runes := []rune(strings.TrimSpace(n.Content))
	if len(runes) <= constants.PreviewLength {
		return string(runes)
	}
	return string(runes[:constants.PreviewLength]) + "..."
}

// ScoredNote is a nearest-neighbour hit. Lower distance is closer.
type ScoredNote struct {
	Note     *Note   `json:"note"`
	Distance float64 `json:"distance"`
}

// NoteStore persists notes and answers project-scoped nearest-neighbour
// queries. Implementations must never return notes without an embedding
// from FindNearest and must order ties by CreatedAt, then ID.
type NoteStore interface {
	Create(ctx context.Context, projectID, content string) (*Note, error)
	GetByID(ctx context.Context, id string) (*Note, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*Note, error)
	// ListUnembedded returns notes still in StatusCreated, oldest first.
	// An empty projectID spans all projects.
	ListUnembedded(ctx context.Context, projectID string, limit int) ([]*Note, error)
	// AttachEmbedding overwrites the embedding in one atomic write.
	AttachEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id, reason string) error
	FindNearest(ctx context.Context, projectID string, query []float32, limit int) ([]ScoredNote, error)
	CountByStatus(ctx context.Context, projectID string) (map[NoteStatus]int, error)
}

func validateContent(projectID, content string) error {
	if strings.TrimSpace(projectID) == "" {
		return interrors.ErrInvalidProjectID
	}
	if strings.TrimSpace(content) == "" {
		return interrors.ErrEmptyContent
	}
	return nil
}

func validateVector(vec []float32, dimensions int) error {
	if len(vec) == 0 || (dimensions > 0 && len(vec) != dimensions) {
		return fmt.Errorf("%w: got %d, expected %d", interrors.ErrDimensionMismatch, len(vec), dimensions)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultSearchLimit
	}
	if limit > constants.MaxSearchLimit {
		return constants.MaxSearchLimit
	}
	return limit
}

// SortScored orders by distance, then CreatedAt, then ID so equal
// distances come back in a deterministic order.
func SortScored(results []ScoredNote) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.Note.CreatedAt.Equal(b.Note.CreatedAt) {
			return a.Note.CreatedAt.Before(b.Note.CreatedAt)
		}
		return a.Note.ID < b.Note.ID
	})
}
