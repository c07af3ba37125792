package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	interrors "github.com/streed/project-notes/internal/errors"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// Project owns zero or more notes. Deleting it deletes its notes.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the project registry.
type Store interface {
	Create(ctx context.Context, name, description string) (*Project, error)
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Slug derives a project ID from its name: lowercase, spaces and
// underscores become dashes, everything else non-alphanumeric is dropped.
func Slug(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, "_", "-")
	var cleanID strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			cleanID.WriteRune(r)
		}
	}
	return strings.Trim(cleanID.String(), "-")
}

// uniqueID appends -1, -2, ... to the slug until taken reports false.
func uniqueID(ctx context.Context, name string, taken func(context.Context, string) (bool, error)) (string, error) {
	base := Slug(name)
	if base == "" {
		return uuid.NewString(), nil
	}

	id := base
	for counter := 1; ; counter++ {
		exists, err := taken(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", base, counter)
	}
}

func sortByName(projects []*Project) {
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Name != projects[j].Name {
			return projects[i].Name < projects[j].Name
		}
		return projects[i].ID < projects[j].ID
	})
}

// Repository stores projects in the shared SQLite database. Notes reference
// projects with ON DELETE CASCADE.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM projects WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up project: %w", err)
	}
	return true, nil
}

func (r *Repository) Create(ctx context.Context, name, description string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, interrors.ErrEmptyProjectName
	}

	id, err := uniqueID(ctx, name, r.Exists)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	p := &Project{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interrors.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (r *Repository) List(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM projects ORDER BY name, id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return projects, nil
}

// Delete removes the project. Its notes go with it through the foreign key.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return interrors.ErrProjectNotFound
	}
	return nil
}

// MemoryStore keeps projects in process. It has no notes to cascade to;
// callers drop a deleted project's notes from their note store.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*Project), now: time.Now}
}

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.projects[id]
	return ok, nil
}

func (m *MemoryStore) Create(ctx context.Context, name, description string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, interrors.ErrEmptyProjectName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := uniqueID(ctx, name, func(_ context.Context, id string) (bool, error) {
		_, ok := m.projects[id]
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	p := &Project{ID: id, Name: strings.TrimSpace(name), Description: description, CreatedAt: now, UpdatedAt: now}
	m.projects[id] = p
	c := *p
	return &c, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, interrors.ErrProjectNotFound
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Project, error) {
	m.mu.RLock()
	projects := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		c := *p
		projects = append(projects, &c)
	}
	m.mu.RUnlock()

	sortByName(projects)
	return projects, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return interrors.ErrProjectNotFound
	}
	delete(m.projects, id)
	return nil
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
