package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/mcp"
)

var mcpWorkers bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for LLM integration",
	Long: `Start a Model Context Protocol (MCP) server that lets LLMs work with project notes.

Tools:
- create_note: Add a note to a project
- search_notes: Semantic search within one project
- get_note: Retrieve a note by ID
- list_notes: List the notes of a project
- list_projects: List all projects

Resources:
- projects://list: All projects as JSON

Prompts:
- search_project: Search a project and summarize the closest notes

To use with Claude Desktop, add this to your claude_desktop_config.json:
{
  "mcpServers": {
    "project-notes": {
      "command": "project-notes",
      "args": ["mcp"]
    }
  }
}`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpWorkers, "workers", true, "Run embedding workers in this process")
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger.Info("Starting MCP server...")

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	workerDone := startWorker(ctx, svc, mcpWorkers)

	notesServer := mcp.NewNotesServer(svc, Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serveDone := make(chan error, 1)
	go func() {
		err := notesServer.Serve(serveCtx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			err = nil
		}
		serveDone <- err
	}()

	logger.Info("MCP server ready. Listening on stdio...")
	reason, err := waitForStop(sigChan, serveDone, workerDone)
	if reason != stopServer {
		stopServe()
		<-serveDone
	}

	cancel()
	if reason != stopWorker {
		drainWorker(workerDone)
	}
	if err != nil {
		return err
	}

	logger.Info("MCP server shutting down")
	return nil
}
