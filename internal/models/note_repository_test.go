package models

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/database"
	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type storeFixture struct {
	store      NoteStore
	addProject func(t *testing.T, id string)
	conn       *sql.DB
}

func setupSQLiteStore(t *testing.T, useVec bool, now func() time.Time) storeFixture {
	t.Helper()
	tempDir := t.TempDir()
	db, err := database.New(&config.Config{
		DataDirectory: tempDir,
		DatabasePath:  filepath.Join(tempDir, "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if useVec && !db.VecAvailable() {
		t.Skip("sqlite-vec not available")
	}

	repo := NewNoteRepository(db.Conn(), NoteRepositoryConfig{
		Dimensions:   3,
		Metric:       embeddings.MetricCosine,
		UseSQLiteVec: useVec,
		Now:          now,
	})

	return storeFixture{
		store:      repo,
		conn:       db.Conn(),
		addProject: func(t *testing.T, id string) {
			_, err := db.Conn().Exec(
				"INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
				id, id, formatTime(time.Now()), formatTime(time.Now()),
			)
			if err != nil {
				t.Fatalf("Failed to insert project %s: %v", id, err)
			}
		},
	}
}

type projectSet map[string]bool

func (p projectSet) Exists(_ context.Context, id string) (bool, error) {
	return p[id], nil
}

func setupMemoryStore(t *testing.T, now func() time.Time) storeFixture {
	projects := projectSet{}
	return storeFixture{
		store:      NewMemoryNoteStore(3, embeddings.MetricCosine, WithProjectChecker(projects), WithClock(now)),
		addProject: func(t *testing.T, id string) { projects[id] = true },
	}
}

// forEachStore runs fn against every NoteStore implementation so they are
// held to the same contract.
func forEachStore(t *testing.T, fn func(t *testing.T, f storeFixture)) {
	builders := []struct {
		name  string
		build func(t *testing.T) storeFixture
	}{
		{"sqlite-vec", func(t *testing.T) storeFixture { return setupSQLiteStore(t, true, newStepClock().Now) }},
		{"sqlite-scan", func(t *testing.T) storeFixture { return setupSQLiteStore(t, false, newStepClock().Now) }},
		{"memory", func(t *testing.T) storeFixture { return setupMemoryStore(t, newStepClock().Now) }},
	}
	for _, b := range builders {
		t.Run(b.name, func(t *testing.T) { fn(t, b.build(t)) })
	}
}

func mustCreate(t *testing.T, store NoteStore, projectID, content string) *Note {
	t.Helper()
	note, err := store.Create(context.Background(), projectID, content)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return note
}

func mustAttach(t *testing.T, store NoteStore, id string, vec []float32) {
	t.Helper()
	if err := store.AttachEmbedding(context.Background(), id, vec); err != nil {
		t.Fatalf("AttachEmbedding failed: %v", err)
	}
}

func ids(results []ScoredNote) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Note.ID
	}
	return out
}

func TestCreateNoteStartsUnembedded(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		note := mustCreate(t, f.store, "acme", "Kickoff call notes")

		if note.ID == "" {
			t.Error("Expected an ID")
		}
		if note.Embedding != nil || note.Status() != StatusCreated {
			t.Errorf("New note should be unembedded, got status %s", note.Status())
		}

		got, err := f.store.GetByID(context.Background(), note.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got.Content != "Kickoff call notes" || got.ProjectID != "acme" {
			t.Errorf("Unexpected note %+v", got)
		}
		if !got.CreatedAt.Equal(note.CreatedAt) {
			t.Errorf("CreatedAt did not round-trip: %v != %v", got.CreatedAt, note.CreatedAt)
		}
	})
}

func TestCreateNoteValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		ctx := context.Background()

		if _, err := f.store.Create(ctx, "acme", "   "); !errors.Is(err, interrors.ErrEmptyContent) {
			t.Errorf("Expected ErrEmptyContent, got %v", err)
		}
		if _, err := f.store.Create(ctx, "", "content"); !errors.Is(err, interrors.ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
		if _, err := f.store.Create(ctx, "missing", "content"); !errors.Is(err, interrors.ErrProjectNotFound) {
			t.Errorf("Expected ErrProjectNotFound, got %v", err)
		}
	})
}

func TestGetByIDNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		_, err := f.store.GetByID(context.Background(), "nope")
		if !errors.Is(err, interrors.ErrNotFound) {
			t.Errorf("Expected not found, got %v", err)
		}
	})
}

func TestFindNearestExcludesUnembedded(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		embedded := mustCreate(t, f.store, "acme", "embedded")
		pending := mustCreate(t, f.store, "acme", "pending")
		mustAttach(t, f.store, embedded.ID, []float32{1, 0, 0})

		results, err := f.store.FindNearest(context.Background(), "acme", []float32{1, 0, 0}, 10)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		if len(results) != 1 || results[0].Note.ID != embedded.ID {
			t.Fatalf("Expected only the embedded note, got %v", ids(results))
		}
		for _, r := range results {
			if r.Note.ID == pending.ID {
				t.Error("Unembedded note must never be returned")
			}
		}
	})
}

func TestFindNearestIsProjectScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		f.addProject(t, "globex")

		mine := mustCreate(t, f.store, "acme", "acme roadmap")
		theirs := mustCreate(t, f.store, "globex", "globex roadmap")
		mustAttach(t, f.store, mine.ID, []float32{0, 1, 0})
		// The other project's note is the exact match.
		mustAttach(t, f.store, theirs.ID, []float32{1, 0, 0})

		results, err := f.store.FindNearest(context.Background(), "acme", []float32{1, 0, 0}, 10)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		for _, r := range results {
			if r.Note.ProjectID != "acme" {
				t.Errorf("Cross-project result %s from %s", r.Note.ID, r.Note.ProjectID)
			}
		}
		if len(results) != 1 {
			t.Errorf("Expected 1 result, got %d", len(results))
		}
	})
}

func TestFindNearestOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		far := mustCreate(t, f.store, "acme", "far")
		near := mustCreate(t, f.store, "acme", "near")
		mid := mustCreate(t, f.store, "acme", "mid")
		mustAttach(t, f.store, far.ID, []float32{0, 0, 1})
		mustAttach(t, f.store, near.ID, []float32{1, 0.05, 0})
		mustAttach(t, f.store, mid.ID, []float32{1, 1, 0})

		query := []float32{1, 0, 0}
		first, err := f.store.FindNearest(context.Background(), "acme", query, 10)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		want := []string{near.ID, mid.ID, far.ID}
		got := ids(first)
		if len(got) != len(want) {
			t.Fatalf("Expected %d results, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Unexpected order %v, want %v", got, want)
			}
		}
		for i := 1; i < len(first); i++ {
			if first[i].Distance < first[i-1].Distance {
				t.Errorf("Distances not ascending: %v", first)
			}
		}

		// Same state, same query, same answer.
		second, err := f.store.FindNearest(context.Background(), "acme", query, 10)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		for i := range first {
			if first[i].Note.ID != second[i].Note.ID {
				t.Fatalf("Results are not deterministic: %v vs %v", ids(first), ids(second))
			}
		}

		limited, err := f.store.FindNearest(context.Background(), "acme", query, 2)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("Expected limit 2 to be honoured, got %d", len(limited))
		}
	})
}

func TestFindNearestTieBreakByCreatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		var created []*Note
		for _, content := range []string{"first", "second", "third"} {
			note := mustCreate(t, f.store, "acme", content)
			created = append(created, note)
		}
		// Attach in reverse so insertion order of embeddings differs from
		// creation order.
		for i := len(created) - 1; i >= 0; i-- {
			mustAttach(t, f.store, created[i].ID, []float32{0.3, 0.3, 0.3})
		}

		results, err := f.store.FindNearest(context.Background(), "acme", []float32{0.3, 0.3, 0.3}, 10)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("Expected 3 results, got %d", len(results))
		}
		for i, r := range results {
			if r.Note.ID != created[i].ID {
				t.Errorf("Position %d: expected %s (%s), got %s (%s)",
					i, created[i].ID, created[i].Content, r.Note.ID, r.Note.Content)
			}
		}
	})
}

func TestFindNearestEmptyProject(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "empty")
		results, err := f.store.FindNearest(context.Background(), "empty", []float32{1, 0, 0}, 5)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		if results == nil || len(results) != 0 {
			t.Errorf("Expected empty non-nil slice, got %#v", results)
		}
	})
}

func TestFindNearestRejectsWrongDimensions(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		_, err := f.store.FindNearest(context.Background(), "acme", []float32{1, 0}, 5)
		if !errors.Is(err, interrors.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestFindNearestSkipsRowsOfAnotherDimension(t *testing.T) {
	for _, useVec := range []bool{true, false} {
		name := "sqlite-scan"
		if useVec {
			name = "sqlite-vec"
		}
		t.Run(name, func(t *testing.T) {
			f := setupSQLiteStore(t, useVec, newStepClock().Now)
			f.addProject(t, "acme")
			current := mustCreate(t, f.store, "acme", "current model")
			stale := mustCreate(t, f.store, "acme", "previous model")
			mustAttach(t, f.store, current.ID, []float32{1, 0, 0})

			// A row embedded before the configured dimensions changed.
			blob, err := sqlite_vec.SerializeFloat32([]float32{1, 0, 0, 0})
			if err != nil {
				t.Fatalf("SerializeFloat32 failed: %v", err)
			}
			if _, err := f.conn.Exec("UPDATE notes SET embedding = ? WHERE id = ?", blob, stale.ID); err != nil {
				t.Fatalf("Failed to store stale embedding: %v", err)
			}

			results, err := f.store.FindNearest(context.Background(), "acme", []float32{1, 0, 0}, 10)
			if err != nil {
				t.Fatalf("FindNearest failed: %v", err)
			}
			if len(results) != 1 || results[0].Note.ID != current.ID {
				t.Fatalf("Expected only the current-dimension note, got %v", ids(results))
			}
		})
	}
}

func TestStoredBlobDecodes(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	blob, err := sqlite_vec.SerializeFloat32(in)
	if err != nil {
		t.Fatalf("SerializeFloat32 failed: %v", err)
	}
	out, err := embeddings.BytesToEmbedding(blob)
	if err != nil {
		t.Fatalf("BytesToEmbedding failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("Mismatch at %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestAttachEmbeddingIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		ctx := context.Background()
		note := mustCreate(t, f.store, "acme", "budget review")

		mustAttach(t, f.store, note.ID, []float32{0, 1, 0})
		mustAttach(t, f.store, note.ID, []float32{1, 0, 0})
		mustAttach(t, f.store, note.ID, []float32{1, 0, 0})

		got, err := f.store.GetByID(ctx, note.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got.Status() != StatusEmbedded {
			t.Errorf("Expected embedded status, got %s", got.Status())
		}
		if got.Embedding[0] != 1 || got.Embedding[1] != 0 {
			t.Errorf("Expected last write to win, got %v", got.Embedding)
		}

		results, err := f.store.FindNearest(ctx, "acme", []float32{1, 0, 0}, 5)
		if err != nil {
			t.Fatalf("FindNearest failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Repeated attach must not duplicate the note, got %d results", len(results))
		}
		if math.Abs(results[0].Distance) > 1e-6 {
			t.Errorf("Expected distance ~0, got %f", results[0].Distance)
		}
	})
}

func TestAttachEmbeddingErrors(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		ctx := context.Background()
		note := mustCreate(t, f.store, "acme", "content")

		if err := f.store.AttachEmbedding(ctx, note.ID, []float32{1, 2}); !errors.Is(err, interrors.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
		if err := f.store.AttachEmbedding(ctx, "missing", []float32{1, 2, 3}); !errors.Is(err, interrors.ErrNoteNotFound) {
			t.Errorf("Expected ErrNoteNotFound, got %v", err)
		}
	})
}

func TestMarkEmbeddingFailed(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		ctx := context.Background()
		note := mustCreate(t, f.store, "acme", "content")

		if err := f.store.MarkEmbeddingFailed(ctx, note.ID, "provider timeout"); err != nil {
			t.Fatalf("MarkEmbeddingFailed failed: %v", err)
		}
		got, _ := f.store.GetByID(ctx, note.ID)
		if got.EmbeddingError != "provider timeout" {
			t.Errorf("Expected failure reason to be recorded, got %q", got.EmbeddingError)
		}

		// A later successful attach clears the failure.
		mustAttach(t, f.store, note.ID, []float32{1, 0, 0})
		got, _ = f.store.GetByID(ctx, note.ID)
		if got.EmbeddingError != "" {
			t.Errorf("Expected failure to be cleared, got %q", got.EmbeddingError)
		}

		// Failing an embedded note keeps it searchable.
		if err := f.store.MarkEmbeddingFailed(ctx, note.ID, "late failure"); err != nil {
			t.Fatalf("MarkEmbeddingFailed failed: %v", err)
		}
		got, _ = f.store.GetByID(ctx, note.ID)
		if got.Status() != StatusEmbedded || got.EmbeddingError != "" {
			t.Errorf("Embedded note should be unaffected, got %s %q", got.Status(), got.EmbeddingError)
		}

		if err := f.store.MarkEmbeddingFailed(ctx, "missing", "x"); !errors.Is(err, interrors.ErrNoteNotFound) {
			t.Errorf("Expected ErrNoteNotFound, got %v", err)
		}
	})
}

func TestListByProjectAndUnembedded(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		f.addProject(t, "globex")
		ctx := context.Background()

		a := mustCreate(t, f.store, "acme", "a")
		b := mustCreate(t, f.store, "acme", "b")
		c := mustCreate(t, f.store, "globex", "c")
		mustAttach(t, f.store, b.ID, []float32{1, 0, 0})

		listed, err := f.store.ListByProject(ctx, "acme", 10, 0)
		if err != nil {
			t.Fatalf("ListByProject failed: %v", err)
		}
		if len(listed) != 2 || listed[0].ID != b.ID || listed[1].ID != a.ID {
			t.Errorf("Expected newest first [b a], got %d notes", len(listed))
		}

		paged, err := f.store.ListByProject(ctx, "acme", 1, 1)
		if err != nil {
			t.Fatalf("ListByProject failed: %v", err)
		}
		if len(paged) != 1 || paged[0].ID != a.ID {
			t.Errorf("Expected second page to hold a")
		}

		pending, err := f.store.ListUnembedded(ctx, "", 0)
		if err != nil {
			t.Fatalf("ListUnembedded failed: %v", err)
		}
		if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != c.ID {
			t.Errorf("Expected [a c] oldest first, got %d notes", len(pending))
		}

		scoped, err := f.store.ListUnembedded(ctx, "globex", 10)
		if err != nil {
			t.Fatalf("ListUnembedded failed: %v", err)
		}
		if len(scoped) != 1 || scoped[0].ID != c.ID {
			t.Errorf("Expected only c for globex")
		}
	})
}

func TestScanAndSQLPathsAgree(t *testing.T) {
	clock := newStepClock()
	vec := setupSQLiteStore(t, true, clock.Now)
	scanRepo := NewNoteRepository(vec.store.(*NoteRepository).db, NoteRepositoryConfig{
		Dimensions: 3,
		Metric:     embeddings.MetricCosine,
	})

	vec.addProject(t, "acme")
	vectors := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0.2, 0.2, 0.9}, {0.5, 0.5, 0}}
	for i, v := range vectors {
		note := mustCreate(t, vec.store, "acme", string(rune('a'+i)))
		mustAttach(t, vec.store, note.ID, v)
	}

	query := []float32{0.8, 0.3, 0.1}
	fromSQL, err := vec.store.FindNearest(context.Background(), "acme", query, 5)
	if err != nil {
		t.Fatalf("SQL FindNearest failed: %v", err)
	}
	fromScan, err := scanRepo.FindNearest(context.Background(), "acme", query, 5)
	if err != nil {
		t.Fatalf("Scan FindNearest failed: %v", err)
	}

	if len(fromSQL) != len(fromScan) {
		t.Fatalf("Result counts differ: %d vs %d", len(fromSQL), len(fromScan))
	}
	for i := range fromSQL {
		if fromSQL[i].Note.ID != fromScan[i].Note.ID {
			t.Errorf("Position %d differs: %s vs %s", i, fromSQL[i].Note.ID, fromScan[i].Note.ID)
		}
		if math.Abs(fromSQL[i].Distance-fromScan[i].Distance) > 1e-5 {
			t.Errorf("Distance %d differs: %f vs %f", i, fromSQL[i].Distance, fromScan[i].Distance)
		}
	}
}

func TestNoteMarshalJSONIncludesStatus(t *testing.T) {
	note := &Note{ID: "n1", ProjectID: "p", Content: "c", Embedding: []float32{1}}
	data, err := note.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	got := string(data)
	if want := `"status":"embedded"`; !strings.Contains(got, want) {
		t.Errorf("Expected %s in %s", want, got)
	}
	if strings.Contains(got, `"embedding":[`) {
		t.Errorf("Raw embedding must not be serialised: %s", got)
	}
}

func TestPreview(t *testing.T) {
	short := &Note{Content: "  short  "}
	if short.Preview() != "short" {
		t.Errorf("Unexpected preview %q", short.Preview())
	}
	long := &Note{Content: strings.Repeat("x", 150)}
	if got := []rune(long.Preview()); len(got) != 103 {
		t.Errorf("Expected truncated preview of 103 runes, got %d", len(got))
	}
}

func TestCountByStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		f.addProject(t, "acme")
		f.addProject(t, "globex")
		ctx := context.Background()

		a := mustCreate(t, f.store, "acme", "a")
		mustCreate(t, f.store, "acme", "b")
		mustCreate(t, f.store, "globex", "c")
		mustAttach(t, f.store, a.ID, []float32{1, 0, 0})

		counts, err := f.store.CountByStatus(ctx, "acme")
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[StatusCreated] != 1 || counts[StatusEmbedded] != 1 {
			t.Errorf("Expected 1 created and 1 embedded, got %v", counts)
		}

		counts, err = f.store.CountByStatus(ctx, "empty")
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[StatusCreated] != 0 || counts[StatusEmbedded] != 0 {
			t.Errorf("Expected zero counts, got %v", counts)
		}
	})
}
