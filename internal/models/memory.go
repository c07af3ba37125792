package models

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
)

// ProjectChecker reports whether a project exists. MemoryNoteStore uses it
// in place of a foreign key.
type ProjectChecker interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// MemoryNoteStore keeps notes in process. It backs tests and the
// "memory" vector backend.
type MemoryNoteStore struct {
	mu       sync.RWMutex
	notes    map[string]*Note
	projects ProjectChecker
	metric   embeddings.Metric
	dims     int
	now      func() time.Time
}

type MemoryOption func(*MemoryNoteStore)

func WithProjectChecker(pc ProjectChecker) MemoryOption {
	return func(s *MemoryNoteStore) { s.projects = pc }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryNoteStore) { s.now = now }
}

func NewMemoryNoteStore(dims int, metric embeddings.Metric, opts ...MemoryOption) *MemoryNoteStore {
	if metric == "" {
		metric = embeddings.MetricCosine
	}
	s := &MemoryNoteStore{
		notes:  make(map[string]*Note),
		metric: metric,
		dims:   dims,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func copyNote(n *Note) *Note {
	c := *n
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &c
}

func (s *MemoryNoteStore) Create(ctx context.Context, projectID, content string) (*Note, error) {
	if err := validateContent(projectID, content); err != nil {
		return nil, err
	}
	if s.projects != nil {
		ok, err := s.projects.Exists(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, interrors.ErrProjectNotFound
		}
	}

	now := s.now().UTC()
	note := &Note{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.notes[note.ID] = note
	s.mu.Unlock()
	return copyNote(note), nil
}

func (s *MemoryNoteStore) GetByID(_ context.Context, id string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, interrors.ErrNoteNotFound
	}
	return copyNote(note), nil
}

func (s *MemoryNoteStore) filter(keep func(*Note) bool) []*Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Note{}
	for _, note := range s.notes {
		if keep(note) {
			out = append(out, copyNote(note))
		}
	}
	return out
}

func (s *MemoryNoteStore) ListByProject(_ context.Context, projectID string, limit, offset int) ([]*Note, error) {
	notes := s.filter(func(n *Note) bool { return n.ProjectID == projectID })
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
	return page(notes, limit, offset), nil
}

func (s *MemoryNoteStore) ListUnembedded(_ context.Context, projectID string, limit int) ([]*Note, error) {
	notes := s.filter(func(n *Note) bool {
		return len(n.Embedding) == 0 && (projectID == "" || n.ProjectID == projectID)
	})
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.Before(notes[j].CreatedAt)
		}
		return notes[i].ID < notes[j].ID
	})
	return page(notes, limit, 0), nil
}

func page(notes []*Note, limit, offset int) []*Note {
	if offset > 0 {
		if offset >= len(notes) {
			return []*Note{}
		}
		notes = notes[offset:]
	}
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes
}

func (s *MemoryNoteStore) AttachEmbedding(_ context.Context, id string, embedding []float32) error {
	if err := validateVector(embedding, s.dims); err != nil {
		return err
	}
	vec := append([]float32(nil), embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return interrors.ErrNoteNotFound
	}
	note.Embedding = vec
	note.EmbeddingError = ""
	note.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryNoteStore) MarkEmbeddingFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return interrors.ErrNoteNotFound
	}
	if len(note.Embedding) == 0 {
		note.EmbeddingError = reason
		note.UpdatedAt = s.now().UTC()
	}
	return nil
}

// DeleteProject drops every note of a project, mirroring ON DELETE CASCADE.
func (s *MemoryNoteStore) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, note := range s.notes {
		if note.ProjectID == projectID {
			delete(s.notes, id)
		}
	}
	return nil
}

func (s *MemoryNoteStore) CountByStatus(_ context.Context, projectID string) (map[NoteStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[NoteStatus]int{StatusCreated: 0, StatusEmbedded: 0}
	for _, note := range s.notes {
		if note.ProjectID == projectID {
			counts[note.Status()]++
		}
	}
	return counts, nil
}

func (s *MemoryNoteStore) FindNearest(_ context.Context, projectID string, query []float32, limit int) ([]ScoredNote, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, interrors.ErrInvalidProjectID
	}
	if err := validateVector(query, s.dims); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	s.mu.RLock()
	results := []ScoredNote{}
	for _, note := range s.notes {
		if note.ProjectID != projectID || len(note.Embedding) != len(query) {
			continue
		}
		results = append(results, ScoredNote{
			Note:     copyNote(note),
			Distance: s.metric.Distance(query, note.Embedding),
		})
	}
	s.mu.RUnlock()

	SortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

var _ NoteStore = (*MemoryNoteStore)(nil)
