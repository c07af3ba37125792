package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/constants"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the notes of a project",
	Long:  `List the notes of a project, newest first, with their ID, status and a preview.`,
	RunE:  runList,
}

var (
	listProject string
	listLimit   int
	listOffset  int
	listShort   bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listProject, "project", "p", "", "Project ID (required)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", constants.DefaultListLimit, "Maximum number of notes to display")
	listCmd.Flags().IntVarP(&listOffset, "offset", "o", 0, "Number of notes to skip")
	listCmd.Flags().BoolVarP(&listShort, "short", "s", false, "Show only ID and status")
	_ = listCmd.MarkFlagRequired("project")
}

func runList(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	notes, err := svc.Notes.List(cmd.Context(), listProject, listLimit, listOffset)
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}

	if len(notes) == 0 {
		fmt.Println("No notes found.")
		return nil
	}

	fmt.Printf("Found %d notes:\n\n", len(notes))

	for _, note := range notes {
		if listShort {
			fmt.Printf("[%s] %s\n", note.ID, note.Status())
			continue
		}
		fmt.Printf("ID: %s\n", note.ID)
		fmt.Printf("Status: %s\n", note.Status())
		fmt.Printf("Created: %s\n", formatTime(note.CreatedAt))
		fmt.Printf("Preview: %s\n", strings.ReplaceAll(note.Preview(), "\n", " "))
		fmt.Println(strings.Repeat("-", 60))
	}

	return nil
}

func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		minutes := int(diff.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
