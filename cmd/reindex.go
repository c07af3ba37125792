package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/models"
	"github.com/streed/project-notes/internal/services"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed pending notes or re-embed a whole project",
	Long: `Recompute note embeddings.

With --pending, every note that is not yet searchable is embedded again; this
recovers notes whose embed job was lost or exhausted its retries. Without
--project it covers all projects.

Without --pending, every note of --project is re-embedded with the current
model. This is necessary after changing the embedding model, dimensions or
distance metric.

Pending notes are queued for the workers when a shared queue (redis, amqp) is
configured, and embedded before the command returns otherwise.`,
	RunE: runReindex,
}

var (
	reindexProject string
	reindexPending bool
)

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().StringVarP(&reindexProject, "project", "p", "", "Project ID")
	reindexCmd.Flags().BoolVar(&reindexPending, "pending", false, "Only embed notes that are not searchable yet")
}

func runReindex(cmd *cobra.Command, args []string) error {
	if !reindexPending && reindexProject == "" {
		return fmt.Errorf("--project is required unless --pending is set")
	}

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("Reindexing with:\n")
	fmt.Printf("  Provider: %s\n", appConfig.EmbeddingProvider)
	fmt.Printf("  Model: %s\n", appConfig.EmbeddingModel)
	fmt.Printf("  Dimensions: %d\n", appConfig.VectorDimensions)
	fmt.Println()

	if reindexPending && !inProcessQueue() {
		queued, err := svc.Notes.EnqueuePending(cmd.Context(), reindexProject)
		if err != nil {
			return fmt.Errorf("failed to queue pending notes: %w", err)
		}
		fmt.Printf("Queued %d notes for embedding on the %s queue.\n", queued, appConfig.QueueBackend)
		return nil
	}

	var (
		result services.ReindexResult
		done   int
	)
	progress := func(note *models.Note, err error) {
		done++
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to embed note %s: %v\n", note.ID, err)
		} else if done%10 == 0 {
			fmt.Printf("Progress: %d notes\n", done)
		}
	}

	if reindexPending {
		result, err = svc.Notes.EmbedPending(cmd.Context(), reindexProject, progress)
	} else {
		result, err = svc.Notes.ReembedAll(cmd.Context(), reindexProject, progress)
	}
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	if result.Embedded+result.Failed == 0 {
		fmt.Println("No notes to reindex.")
		return nil
	}
	fmt.Printf("\nReindexing complete: %d/%d notes successfully embedded.\n",
		result.Embedded, result.Embedded+result.Failed)
	return nil
}
