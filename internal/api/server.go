package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
	"github.com/streed/project-notes/internal/project"
	"github.com/streed/project-notes/internal/services"
)

const maxBodyBytes = 1 << 20

// Message returned for provider failures. The cause is logged, never sent.
const searchUnavailable = "search temporarily unavailable"

type APIServer struct {
	cfg     *config.Config
	svc     *services.Services
	server  *http.Server
	version string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CreateNoteRequest struct {
	Content string `json:"content"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchResult struct {
	Note     *models.Note `json:"note"`
	Distance float64      `json:"distance"`
}

type ProjectDetails struct {
	*project.Project
	Notes map[models.NoteStatus]int `json:"notes"`
}

func NewAPIServer(svc *services.Services, version string) *APIServer {
	return &APIServer{
		cfg:     svc.Config,
		svc:     svc,
		version: version,
	}
}

// Handler returns the routed, CORS-wrapped handler. Start serves it;
// tests mount it on httptest.
func (s *APIServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(logRequests)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Projects endpoints
	api.HandleFunc("/projects", s.handleListProjects).Methods("GET")
	api.HandleFunc("/projects", s.handleCreateProject).Methods("POST")
	api.HandleFunc("/projects/{projectId}", s.handleGetProject).Methods("GET")
	api.HandleFunc("/projects/{projectId}", s.handleDeleteProject).Methods("DELETE")

	// Notes endpoints
	api.HandleFunc("/projects/{projectId}/notes", s.handleListNotes).Methods("GET")
	api.HandleFunc("/projects/{projectId}/notes", s.handleCreateNote).Methods("POST")
	api.HandleFunc("/projects/{projectId}/notes/search", s.handleSearchNotes).Methods("POST")
	api.HandleFunc("/notes/{noteId}", s.handleGetNote).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/docs", s.handleDocs).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	})

	return c.Handler(router)
}

func (s *APIServer) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // search waits on the embedding provider
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("Starting HTTP API server on %s", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *APIServer) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.LogRequest(r.Method, r.URL.Path, r.RemoteAddr)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.LogResponse(r.Method, r.URL.Path, rec.status, time.Since(start).String())
	})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: statusCode < 400,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   err.Error(),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Only
// validation and not-found messages reach the client verbatim.
func (s *APIServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interrors.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, interrors.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this response.
		logger.Debug("%s %s: request cancelled", r.Method, r.URL.Path)
		s.writeError(w, http.StatusServiceUnavailable, errors.New("request cancelled"))
	case errors.Is(err, interrors.ErrProvider):
		logger.Error("%s %s: provider failure: %v", r.Method, r.URL.Path, err)
		s.writeError(w, http.StatusServiceUnavailable, errors.New(searchUnavailable))
	default:
		logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		s.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", interrors.ErrValidation, err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return def, nil
	}
	n, err := strconv.Atoi(str)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", interrors.ErrValidation, name)
	}
	return n, nil
}

// Handlers

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "ok",
		"timestamp":       time.Now().Format(time.RFC3339),
		"version":         s.version,
		"vector_backend":  s.cfg.VectorBackend,
		"queue_backend":   s.cfg.QueueBackend,
		"embedding_model": s.cfg.EmbeddingModel,
	}

	if err := s.svc.Ping(r.Context()); err != nil {
		health["status"] = "unhealthy"
		health["database_error"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}

	s.writeJSON(w, http.StatusOK, health)
}

func (s *APIServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Projects.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *APIServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	p, err := s.svc.Projects.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *APIServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	p, err := s.svc.Projects.Get(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	counts, err := s.svc.Store.CountByStatus(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ProjectDetails{Project: p, Notes: counts})
}

func (s *APIServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]
	if err := s.svc.Projects.Delete(r.Context(), projectID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": projectID})
}

func (s *APIServer) handleListNotes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", constants.DefaultListLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	notes, err := s.svc.Notes.List(r.Context(), mux.Vars(r)["projectId"], limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, notes)
}

func (s *APIServer) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	note, err := s.svc.Notes.Create(r.Context(), mux.Vars(r)["projectId"], req.Content)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, note)
}

func (s *APIServer) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	results, err := s.svc.Search.Search(r.Context(), mux.Vars(r)["projectId"], req.Query, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{Note: res.Note, Distance: res.Distance}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.svc.Notes.Get(r.Context(), mux.Vars(r)["noteId"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, note)
}

func (s *APIServer) handleDocs(w http.ResponseWriter, r *http.Request) {
	docs := `# Project Notes API

## Base URL
/api/v1

## Endpoints

### Projects
- GET    /projects                      - List projects
- POST   /projects                      - Create a project {"name", "description"}
- GET    /projects/{projectId}          - Get a project with note counts
- DELETE /projects/{projectId}          - Delete a project and its notes

### Notes
- GET  /projects/{projectId}/notes        - List notes (query params: limit, offset)
- POST /projects/{projectId}/notes        - Create a note {"content"}
- POST /projects/{projectId}/notes/search - Semantic search {"query", "limit"}
- GET  /notes/{noteId}                    - Get a note

### System
- GET /health - Health check
- GET /docs   - This documentation

New notes are embedded in the background and become searchable once
their status is "embedded".
`

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(docs)); err != nil {
		logger.Error("Failed to write response: %v", err)
	}
}
