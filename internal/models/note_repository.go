package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

// timeLayout is fixed width so that ORDER BY created_at on the stored
// text is chronological.
const timeLayout = "2006-01-02 15:04:05.000000000"

const noteColumns = "id, project_id, content, embedding, embedding_error, created_at, updated_at"

type NoteRepositoryConfig struct {
	Dimensions int
	Metric     embeddings.Metric
	// UseSQLiteVec ranks inside SQLite with sqlite-vec. When false the
	// repository ranks the project's rows in process with the same metric.
	UseSQLiteVec bool
	Now          func() time.Time
}

// NoteRepository is the SQLite NoteStore.
type NoteRepository struct {
	db  *sql.DB
	cfg NoteRepositoryConfig
}

func NewNoteRepository(db *sql.DB, cfg NoteRepositoryConfig) *NoteRepository {
	if cfg.Metric == "" {
		cfg.Metric = embeddings.MetricCosine
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &NoteRepository{db: db, cfg: cfg}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner, extra ...interface{}) (*Note, error) {
	var (
		note      Note
		blob      []byte
		embedErr  sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	dest := append([]interface{}{&note.ID, &note.ProjectID, &note.Content, &blob, &embedErr, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		vec, err := embeddings.BytesToEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", note.ID, err)
		}
		note.Embedding = vec
	}
	note.EmbeddingError = embedErr.String
	note.CreatedAt = createdAt.UTC()
	note.UpdatedAt = updatedAt.UTC()
	return &note, nil
}

func (r *NoteRepository) Create(ctx context.Context, projectID, content string) (*Note, error) {
	if err := validateContent(projectID, content); err != nil {
		return nil, err
	}

	now := r.cfg.Now()
	note := &Note{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Content:   content,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO notes (id, project_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		note.ID, note.ProjectID, note.Content, formatTime(now), formatTime(now),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return nil, interrors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	return note, nil
}

func (r *NoteRepository) GetByID(ctx context.Context, id string) (*Note, error) {
	note, err := scanNote(r.db.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interrors.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

func (r *NoteRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE project_id = ? ORDER BY created_at DESC, id DESC"
	args := []interface{}{projectID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	return r.queryNotes(ctx, query, args...)
}

func (r *NoteRepository) ListUnembedded(ctx context.Context, projectID string, limit int) ([]*Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE embedding IS NULL"
	var args []interface{}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryNotes(ctx, query, args...)
}

func (r *NoteRepository) queryNotes(ctx context.Context, query string, args ...interface{}) ([]*Note, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return notes, nil
}

// AttachEmbedding writes the full vector in a single UPDATE, so readers see
// either no embedding or the complete one. Repeated calls overwrite.
func (r *NoteRepository) AttachEmbedding(ctx context.Context, id string, embedding []float32) error {
	if err := validateVector(embedding, r.cfg.Dimensions); err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE notes SET embedding = ?, embedding_error = NULL, updated_at = ? WHERE id = ?",
		blob, formatTime(r.cfg.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return requireRow(result)
}

func (r *NoteRepository) MarkEmbeddingFailed(ctx context.Context, id, reason string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notes SET embedding_error = ?, updated_at = ? WHERE id = ? AND embedding IS NULL",
		reason, formatTime(r.cfg.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record embedding failure: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Either missing, or a concurrent attempt already embedded it.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return interrors.ErrNoteNotFound
	}
	return nil
}

func (r *NoteRepository) FindNearest(ctx context.Context, projectID string, query []float32, limit int) ([]ScoredNote, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, interrors.ErrInvalidProjectID
	}
	if err := validateVector(query, r.cfg.Dimensions); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	if r.cfg.UseSQLiteVec {
		return r.findNearestVec(ctx, projectID, query, limit)
	}
	return r.findNearestScan(ctx, projectID, query, limit)
}

func (r *NoteRepository) findNearestVec(ctx context.Context, projectID string, query []float32, limit int) ([]ScoredNote, error) {
	queryBytes, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, %s(embedding, ?) AS distance
		FROM notes
		WHERE project_id = ? AND embedding IS NOT NULL AND length(embedding) = ?
		ORDER BY distance ASC, created_at ASC, id ASC
		LIMIT ?
	`, noteColumns, r.cfg.Metric.SQLFunction()), queryBytes, projectID, len(queryBytes), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour query failed: %w", err)
	}
	defer rows.Close()

	results := []ScoredNote{}
	for rows.Next() {
		var distance float64
		note, err := scanNote(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		results = append(results, ScoredNote{Note: note, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// findNearestScan ranks every embedded note of the project in process.
// Linear in the project's size, used when sqlite-vec is unavailable.
func (r *NoteRepository) findNearestScan(ctx context.Context, projectID string, query []float32, limit int) ([]ScoredNote, error) {
	notes, err := r.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE project_id = ? AND embedding IS NOT NULL",
		projectID,
	)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredNote, 0, len(notes))
	for _, note := range notes {
		if len(note.Embedding) != len(query) {
			logger.Warn("Skipping note %s: stored embedding has %d dimensions, query has %d",
				note.ID, len(note.Embedding), len(query))
			continue
		}
		results = append(results, ScoredNote{Note: note, Distance: r.cfg.Metric.Distance(query, note.Embedding)})
	}

	SortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CountByStatus returns how many notes of a project are created vs embedded.
func (r *NoteRepository) CountByStatus(ctx context.Context, projectID string) (map[NoteStatus]int, error) {
	var created, embedded int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN embedding IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM notes WHERE project_id = ?
	`, projectID).Scan(&created, &embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to count notes: %w", err)
	}
	return map[NoteStatus]int{StatusCreated: created, StatusEmbedded: embedded}, nil
}

var _ NoteStore = (*NoteRepository)(nil)
