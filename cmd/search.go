package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search within a project",
	Long: `Find the notes of a project whose meaning is closest to the query.

Only embedded notes are considered. Results are ordered closest first; a lower
distance means a closer match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	searchProject string
	searchLimit   int
	searchShort   bool
	searchJSON    bool
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "Project ID (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "Maximum number of results (0 for the configured default)")
	searchCmd.Flags().BoolVarP(&searchShort, "short", "s", false, "Show only ID and distance")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")
	_ = searchCmd.MarkFlagRequired("project")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	results, err := svc.Search.Search(cmd.Context(), searchProject, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No embedded notes matched.")
		return nil
	}

	fmt.Printf("Found %d notes:\n\n", len(results))
	for i, r := range results {
		if searchShort {
			fmt.Printf("[%s] %.4f\n", r.Note.ID, r.Distance)
			continue
		}
		fmt.Printf("%d. ID: %s (distance %.4f)\n", i+1, r.Note.ID, r.Distance)
		fmt.Printf("   Created: %s\n", formatTime(r.Note.CreatedAt))
		fmt.Printf("   %s\n", strings.ReplaceAll(r.Note.Preview(), "\n", " "))
		fmt.Println(strings.Repeat("-", 60))
	}
	return nil
}
