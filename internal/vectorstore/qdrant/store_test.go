package qdrant

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streed/project-notes/internal/embeddings"
	"github.com/streed/project-notes/internal/embeddings/embeddingstest"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/models"
	"github.com/streed/project-notes/internal/search"
)

type storedPoint struct {
	vector    []float32
	projectID string
	seq       int
}

// fakePoints is an in-memory stand-in for the Qdrant points service.
type fakePoints struct {
	mu       sync.Mutex
	points   map[string]storedPoint
	queries  []*qdrant.QueryPoints
	queryErr error
	// upsertFailures makes the next n upserts fail.
	upsertFailures int
	seq            int
}

func newFakePoints() *fakePoints {
	return &fakePoints{points: make(map[string]storedPoint)}
}

func filterProject(f *qdrant.Filter) string {
	if f == nil || len(f.GetMust()) == 0 {
		return ""
	}
	field := f.GetMust()[0].GetField()
	if field.GetKey() != payloadProjectID {
		return ""
	}
	return field.GetMatch().GetKeyword()
}

func (f *fakePoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertFailures > 0 {
		f.upsertFailures--
		return nil, errors.New("qdrant unavailable")
	}
	for _, p := range req.GetPoints() {
		f.seq++
		f.points[p.GetId().GetUuid()] = storedPoint{
			vector:    p.GetVectors().GetVector().GetDense().GetData(),
			projectID: p.GetPayload()[payloadProjectID].GetStringValue(),
			seq:       f.seq,
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	projectID := filterProject(req.GetPoints().GetFilter())
	for id, p := range f.points {
		if p.projectID == projectID {
			delete(f.points, id)
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	query := req.GetQuery().GetNearest().GetDense().GetData()
	projectID := filterProject(req.GetFilter())

	var out []*qdrant.ScoredPoint
	seqs := make(map[*qdrant.ScoredPoint]int)
	for id, p := range f.points {
		if projectID != "" && p.projectID != projectID {
			continue
		}
		similarity := 1 - embeddings.CosineDistance(query, p.vector)
		sp := &qdrant.ScoredPoint{Id: qdrant.NewIDUUID(id), Score: float32(similarity)}
		seqs[sp] = p.seq
		out = append(out, sp)
	}
	// Equal scores come back newest upsert first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return seqs[out[i]] > seqs[out[j]]
	})
	offset := int(req.GetOffset())
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit := int(req.GetLimit()); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type projectSet map[string]bool

func (p projectSet) Exists(_ context.Context, id string) (bool, error) { return p[id], nil }

func newTestStore(t *testing.T) (*NoteStore, *fakePoints) {
	t.Helper()
	fake := newFakePoints()
	client := &Client{points: fake, collection: "notes", dimensions: 3, metric: embeddings.MetricCosine}
	base := models.NewMemoryNoteStore(3, embeddings.MetricCosine, models.WithProjectChecker(projectSet{"acme": true, "globex": true}))
	return NewNoteStore(base, client), fake
}

func TestAttachEmbeddingUpsertsPoint(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, "acme", "kickoff")
	require.NoError(t, err)
	require.NoError(t, store.AttachEmbedding(ctx, note.ID, []float32{1, 0, 0}))

	point, ok := fake.points[note.ID]
	require.True(t, ok, "expected a point for the note")
	assert.Equal(t, "acme", point.projectID)
	assert.Equal(t, []float32{1, 0, 0}, point.vector)

	got, err := store.GetByID(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmbedded, got.Status())
}

func TestAttachEmbeddingValidatesBeforeUpsert(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, "acme", "kickoff")
	require.NoError(t, err)

	err = store.AttachEmbedding(ctx, note.ID, []float32{1, 0})
	assert.ErrorIs(t, err, interrors.ErrDimensionMismatch)
	assert.Empty(t, fake.points)
}

func TestFindNearestFiltersByProject(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	near, _ := store.Create(ctx, "acme", "near")
	far, _ := store.Create(ctx, "acme", "far")
	other, _ := store.Create(ctx, "globex", "exact match elsewhere")
	require.NoError(t, store.AttachEmbedding(ctx, near.ID, []float32{1, 0.1, 0}))
	require.NoError(t, store.AttachEmbedding(ctx, far.ID, []float32{0, 0, 1}))
	require.NoError(t, store.AttachEmbedding(ctx, other.ID, []float32{1, 0, 0}))

	results, err := store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Note.ID)
	assert.Equal(t, far.ID, results[1].Note.ID)
	assert.InDelta(t, 1.0, results[1].Distance, 1e-6)

	require.Len(t, fake.queries, 1)
	assert.Equal(t, "acme", filterProject(fake.queries[0].GetFilter()))
	assert.Equal(t, uint64(10), fake.queries[0].GetLimit())
}

func TestFindNearestTieBreak(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var created []*models.Note
	for _, c := range []string{"a", "b", "c"} {
		n, err := store.Create(ctx, "acme", c)
		require.NoError(t, err)
		created = append(created, n)
	}
	for i := len(created) - 1; i >= 0; i-- {
		require.NoError(t, store.AttachEmbedding(ctx, created[i].ID, []float32{0, 1, 0}))
	}

	results, err := store.FindNearest(ctx, "acme", []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// CreatedAt is ordered by creation; equal timestamps fall back to ID.
	expected := append([]*models.Note(nil), created...)
	sort.SliceStable(expected, func(i, j int) bool {
		if !expected[i].CreatedAt.Equal(expected[j].CreatedAt) {
			return expected[i].CreatedAt.Before(expected[j].CreatedAt)
		}
		return expected[i].ID < expected[j].ID
	})
	assert.Equal(t, expected[0].ID, results[0].Note.ID)
	assert.Equal(t, expected[1].ID, results[1].Note.ID)
}

func TestFindNearestPagesPastTiesAtTheCut(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	var created []*models.Note
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		n, err := store.Create(ctx, "acme", c)
		require.NoError(t, err)
		created = append(created, n)
	}
	// Oldest note is upserted first, so Qdrant returns it last.
	for _, n := range created {
		require.NoError(t, store.AttachEmbedding(ctx, n.ID, []float32{0, 1, 0}))
	}

	results, err := store.FindNearest(ctx, "acme", []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	oldest := created[0]
	for _, n := range created[1:] {
		if n.CreatedAt.Before(oldest.CreatedAt) || (n.CreatedAt.Equal(oldest.CreatedAt) && n.ID < oldest.ID) {
			oldest = n
		}
	}
	assert.Equal(t, oldest.ID, results[0].Note.ID)
	assert.Greater(t, len(fake.queries), 1, "tied pages should be followed")
	assert.Equal(t, uint64(2), fake.queries[1].GetOffset())
}

func TestFindNearestStopsWhenTieIsBroken(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	vectors := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}}
	for i, v := range vectors {
		n, err := store.Create(ctx, "acme", string(rune('a'+i)))
		require.NoError(t, err)
		require.NoError(t, store.AttachEmbedding(ctx, n.ID, v))
	}

	results, err := store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, fake.queries, 1)
}

func TestAttachEmbeddingFailedUpsertLeavesNotePending(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, "acme", "kickoff")
	require.NoError(t, err)

	fake.upsertFailures = 1
	err = store.AttachEmbedding(ctx, note.ID, []float32{1, 0, 0})
	require.Error(t, err)

	got, err := store.GetByID(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status())

	// A retry writes the point and the note becomes searchable.
	require.NoError(t, store.AttachEmbedding(ctx, note.ID, []float32{1, 0, 0}))
	results, err := store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, note.ID, results[0].Note.ID)
}

func TestRetriedEmbedAfterUpsertFailure(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	indexer := search.NewIndexer(store, embeddingstest.New(3).Keyword("kickoff", []float32{1, 0, 0}))

	note, err := store.Create(ctx, "acme", "kickoff")
	require.NoError(t, err)

	fake.upsertFailures = 1
	require.Error(t, indexer.EmbedNote(ctx, note.ID))
	require.NoError(t, indexer.EmbedNote(ctx, note.ID))

	assert.Contains(t, fake.points, note.ID)
	results, err := store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, note.ID, results[0].Note.ID)
}

func TestFindNearestSkipsMissingRows(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	fake.points["7f1c2a4e-0000-4000-8000-000000000000"] = storedPoint{vector: []float32{1, 0, 0}, projectID: "acme"}

	results, err := store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindNearestPropagatesQueryError(t *testing.T) {
	store, fake := newTestStore(t)
	fake.queryErr = errors.New("connection refused")

	results, err := store.FindNearest(context.Background(), "acme", []float32{1, 0, 0}, 5)
	assert.Error(t, err)
	assert.Nil(t, results)
}

func TestDeleteProjectRemovesPoints(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, "acme", "a")
	g, _ := store.Create(ctx, "globex", "g")
	require.NoError(t, store.AttachEmbedding(ctx, a.ID, []float32{1, 0, 0}))
	require.NoError(t, store.AttachEmbedding(ctx, g.ID, []float32{1, 0, 0}))

	require.NoError(t, store.DeleteProject(ctx, "acme"))
	assert.NotContains(t, fake.points, a.ID)
	assert.Contains(t, fake.points, g.ID)
}

func TestDistanceConversion(t *testing.T) {
	assert.Equal(t, qdrant.Distance_Cosine, distanceFor(embeddings.MetricCosine))
	assert.Equal(t, qdrant.Distance_Euclid, distanceFor(embeddings.MetricL2))
	assert.InDelta(t, 0.25, toDistance(embeddings.MetricCosine, 0.75), 1e-6)
	assert.InDelta(t, 2.5, toDistance(embeddings.MetricL2, 2.5), 1e-6)
}

func TestParseAddress(t *testing.T) {
	host, port, tls, err := parseAddress("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, defaultGRPCPort, port)
	assert.False(t, tls)

	host, port, tls, err = parseAddress("https://cluster.example.io:7334")
	require.NoError(t, err)
	assert.Equal(t, "cluster.example.io", host)
	assert.Equal(t, 7334, port)
	assert.True(t, tls)

	_, _, _, err = parseAddress("http://localhost:abc")
	assert.ErrorIs(t, err, interrors.ErrConfiguration)
}
