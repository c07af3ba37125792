package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get a note by ID",
	Long:  `Display the full content of a note by its ID.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	note, err := svc.Notes.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get note: %w", err)
	}

	fmt.Printf("================================================================================\n")
	fmt.Printf("ID: %s\n", note.ID)
	fmt.Printf("Project: %s\n", note.ProjectID)
	fmt.Printf("Status: %s\n", note.Status())
	fmt.Printf("Created: %s\n", note.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated: %s\n", note.UpdatedAt.Format("2006-01-02 15:04:05"))
	if note.EmbeddingError != "" {
		fmt.Printf("Last embedding error: %s\n", note.EmbeddingError)
	}
	fmt.Printf("================================================================================\n\n")

	fmt.Println(note.Content)
	fmt.Println()

	return nil
}
