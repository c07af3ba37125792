package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/api"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/services"
)

var (
	serveHost    string
	servePort    int
	serveWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start an HTTP API server exposing projects, notes and semantic search.

By default the server also runs embedding workers in process. Pass
--workers=false when dedicated 'project-notes worker' processes consume a
Redis or RabbitMQ queue instead.

The API is documented at http://host:port/api/v1/docs when the server is running.

Examples:
  project-notes serve                             # Start on localhost:8080
  project-notes serve --host 0.0.0.0 --port 3000  # Start on all interfaces, port 3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind the server to")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to bind the server to")
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", true, "Run embedding workers in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Initializing HTTP API server...")

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	apiServer := api.NewAPIServer(svc, Version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	workerDone := startWorker(ctx, svc, serveWorkers)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start(serveHost, servePort)
	}()

	fmt.Printf("\nProject Notes HTTP API Server\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Server URL: http://%s:%d\n", serveHost, servePort)
	fmt.Printf("API Docs:   http://%s:%d/api/v1/docs\n", serveHost, servePort)
	fmt.Printf("Health:     http://%s:%d/api/v1/health\n", serveHost, servePort)
	fmt.Printf("Queue:      %s (workers in process: %v)\n", appConfig.QueueBackend, serveWorkers)
	fmt.Printf("\nExample API calls:\n")
	fmt.Printf("   curl -X POST http://%s:%d/api/v1/projects -d '{\"name\":\"Acme\"}'\n", serveHost, servePort)
	fmt.Printf("   curl -X POST http://%s:%d/api/v1/projects/acme/notes/search -d '{\"query\":\"revenue\"}'\n", serveHost, servePort)
	fmt.Printf("\nPress Ctrl+C to stop the server\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	reason, serveErr := waitForStop(sigChan, errChan, workerDone)
	if reason != stopServer {
		if err := apiServer.Stop(); err != nil {
			logger.Error("Error during server shutdown: %v", err)
			if serveErr == nil {
				serveErr = err
			}
		}
	}

	cancel()
	if reason != stopWorker {
		drainWorker(workerDone)
	}
	logger.Info("Server stopped")
	return serveErr
}

// stopReason says which event ended a long-running command.
type stopReason int

const (
	stopSignal stopReason = iota
	stopServer
	stopWorker
)

// errWorkerStopped is returned when the in-process embedding worker exits
// while the server beside it is still running.
var errWorkerStopped = errors.New("embedding worker stopped unexpectedly")

// waitForStop blocks until a signal arrives, the server returns or the
// worker exits. A nil workerDone never fires. Any worker exit counts as a
// failure because the worker only returns on its own when it can no longer
// consume.
func waitForStop(sigChan <-chan os.Signal, serverDone, workerDone <-chan error) (stopReason, error) {
	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, shutting down gracefully...", sig)
		return stopSignal, nil
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
		}
		return stopServer, err
	case err := <-workerDone:
		if err != nil {
			err = fmt.Errorf("%w: %w", errWorkerStopped, err)
		} else {
			err = errWorkerStopped
		}
		logger.Error("Shutting down: %v", err)
		return stopWorker, err
	}
}

// drainWorker waits for a cancelled worker to return.
func drainWorker(workerDone <-chan error) {
	if workerDone == nil {
		return
	}
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error: %v", err)
	}
}

// startWorker runs an embedding worker until ctx is cancelled. The
// returned channel yields the worker's result once it has stopped. It is
// nil when enabled is false.
func startWorker(ctx context.Context, svc *services.Services, enabled bool) <-chan error {
	if !enabled {
		if inProcessQueue() {
			logger.Warn("Workers disabled with an in-memory queue; notes will not be embedded")
		}
		return nil
	}

	done := make(chan error, 1)
	worker := svc.NewWorker()
	go func() {
		done <- worker.Run(ctx)
	}()
	return done
}
