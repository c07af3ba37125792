package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/services"
)

const projectsURI = "projects://list"

type NotesServer struct {
	svc       *services.Services
	mcpServer *server.MCPServer
}

func NewNotesServer(svc *services.Services, version string) *NotesServer {
	ns := &NotesServer{svc: svc}

	// Create MCP server
	ns.mcpServer = server.NewMCPServer(
		"project-notes",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	ns.registerTools()
	ns.registerResources()
	ns.registerPrompts()

	return ns
}

func (s *NotesServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve runs the server over stdio until stdin closes or ctx is cancelled.
func (s *NotesServer) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *NotesServer) registerTools() {
	createNoteTool := mcp.NewTool("create_note",
		mcp.WithDescription("Add a note to a project. The note becomes searchable once its embedding has been computed in the background."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("The project that owns the note"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The content of the note"),
		),
	)
	s.mcpServer.AddTool(createNoteTool, s.handleCreateNote)

	searchTool := mcp.NewTool("search_notes",
		mcp.WithDescription("Semantic search over the embedded notes of one project, closest first."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("The project to search in"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of results (default: %d)", constants.DefaultSearchLimit)),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearchNotes)

	getNoteTool := mcp.NewTool("get_note",
		mcp.WithDescription("Get a specific note by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The ID of the note to retrieve"),
		),
	)
	s.mcpServer.AddTool(getNoteTool, s.handleGetNote)

	listNotesTool := mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes of a project, newest first"),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("The project to list"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notes to return"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of notes to skip"),
		),
	)
	s.mcpServer.AddTool(listNotesTool, s.handleListNotes)

	listProjectsTool := mcp.NewTool("list_projects",
		mcp.WithDescription("List all projects"),
	)
	s.mcpServer.AddTool(listProjectsTool, s.handleListProjects)
}

func (s *NotesServer) registerResources() {
	projectsResource := mcp.NewResource(projectsURI,
		"Projects",
		mcp.WithResourceDescription("All projects with their IDs"),
		mcp.WithMIMEType("application/json"),
	)
	s.mcpServer.AddResource(projectsResource, s.handleProjectsResource)
}

func (s *NotesServer) registerPrompts() {
	searchPrompt := mcp.NewPrompt("search_project",
		mcp.WithPromptDescription("Ask the assistant to search a project's notes"),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Project to search"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("query",
			mcp.ArgumentDescription("What to look for"),
		),
	)
	s.mcpServer.AddPrompt(searchPrompt, s.handleSearchPrompt)
}

// toolError turns a service error into a tool result the model can read.
// Provider failures are reported generically; the cause is logged.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, interrors.ErrValidation), errors.Is(err, interrors.ErrNotFound):
		return mcp.NewToolResultError(err.Error()), nil
	case errors.Is(err, interrors.ErrProvider):
		logger.Error("MCP %s: provider failure: %v", tool, err)
		return mcp.NewToolResultError("search temporarily unavailable"), nil
	default:
		return nil, fmt.Errorf("%s failed: %w", tool, err)
	}
}

// Tool handlers
func (s *NotesServer) handleCreateNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger.Debug("MCP tool call: create_note")

	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, err := s.svc.Notes.Create(ctx, projectID, content)
	if err != nil {
		return toolError("create_note", err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Note created with ID: %s\nProject: %s\nStatus: %s",
		note.ID, note.ProjectID, note.Status())), nil
}

func (s *NotesServer) handleSearchNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger.Debug("MCP tool call: search_notes")

	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", 0)

	results, err := s.svc.Search.Search(ctx, projectID, query, limit)
	if err != nil {
		return toolError("search_notes", err)
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No embedded notes found in this project."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d notes:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [ID: %s] distance %.4f\n   %s\n\n",
			i+1, r.Note.ID, r.Distance, r.Note.Preview())
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *NotesServer) handleGetNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger.Debug("MCP tool call: get_note")

	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, err := s.svc.Notes.Get(ctx, id)
	if err != nil {
		return toolError("get_note", err)
	}

	result := fmt.Sprintf("Note ID: %s\nProject: %s\nStatus: %s\nCreated: %s\nUpdated: %s\n\nContent:\n%s",
		note.ID, note.ProjectID, note.Status(),
		note.CreatedAt.Format("2006-01-02 15:04:05"),
		note.UpdatedAt.Format("2006-01-02 15:04:05"),
		note.Content)
	if note.EmbeddingError != "" {
		result += "\n\nEmbedding failed: " + note.EmbeddingError
	}
	return mcp.NewToolResultText(result), nil
}

func (s *NotesServer) handleListNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger.Debug("MCP tool call: list_notes")

	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", constants.DefaultListLimit)
	offset := request.GetInt("offset", 0)

	notes, err := s.svc.Notes.List(ctx, projectID, limit, offset)
	if err != nil {
		return toolError("list_notes", err)
	}

	if len(notes) == 0 {
		return mcp.NewToolResultText("No notes found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Listing %d notes (offset: %d):\n\n", len(notes), offset)
	for i, note := range notes {
		fmt.Fprintf(&b, "%d. [ID: %s] %s (Created: %s)\n   %s\n\n",
			i+1+offset, note.ID, note.Status(),
			note.CreatedAt.Format("2006-01-02"),
			note.Preview())
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *NotesServer) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger.Debug("MCP tool call: list_projects")

	projects, err := s.svc.Projects.List(ctx)
	if err != nil {
		return toolError("list_projects", err)
	}
	if len(projects) == 0 {
		return mcp.NewToolResultText("No projects found."), nil
	}

	var b strings.Builder
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s (ID: %s)", p.Name, p.ID)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *NotesServer) handleProjectsResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	logger.Debug("MCP resource read: %s", projectsURI)

	projects, err := s.svc.Projects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode projects: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      projectsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// Prompt handlers
func (s *NotesServer) handleSearchPrompt(_ context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	projectID := request.Params.Arguments["project_id"]
	query := request.Params.Arguments["query"]

	prompt := fmt.Sprintf("Use the search_notes tool with project_id %q to find notes about: %s\n\nSummarize what the closest notes say and cite their IDs.", projectID, query)
	return &mcp.GetPromptResult{
		Description: "Search prompt for a project's notes",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(prompt),
			},
		},
	}, nil
}
