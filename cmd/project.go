package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/models"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  `Create, inspect, list and delete projects. Every note belongs to exactly one project.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name> [description]",
	Short: "Create a new project",
	Long: `Create a new project. Its ID is derived from the name, e.g. "Acme Corp" becomes acme-corp.

Examples:
  project-notes project create "Acme Corp"
  project-notes project create "Acme Corp" "Retail analytics engagement"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE:  runProjectList,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its embedding progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and all of its notes",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

var projectForce bool

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectDeleteCmd.Flags().BoolVarP(&projectForce, "force", "f", false, "Delete without confirmation")
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	p, err := svc.Projects.Create(cmd.Context(), args[0], description)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	fmt.Printf("✓ Created project '%s' (ID: %s)\n", p.Name, p.ID)
	fmt.Printf("  Add a note with: project-notes add -p %s -c \"...\"\n", p.ID)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	projects, err := svc.Projects.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found. Create one with 'project-notes project create <name>'.")
		return nil
	}

	// Create tabwriter for aligned output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tDESCRIPTION")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format("2006-01-02"), p.Description)
	}
	return w.Flush()
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.Projects.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	counts, err := svc.Store.CountByStatus(cmd.Context(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to count notes: %w", err)
	}

	fmt.Printf("Project: %s (ID: %s)\n", p.Name, p.ID)
	if p.Description != "" {
		fmt.Printf("  Description: %s\n", p.Description)
	}
	fmt.Printf("  Created: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Notes: %d embedded, %d awaiting embedding\n",
		counts[models.StatusEmbedded], counts[models.StatusCreated])
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.Projects.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if !projectForce {
		fmt.Printf("Delete project '%s' (ID: %s) and all of its notes? [y/N]: ", p.Name, p.ID)
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			// If there's an error reading input, treat as "no"
			response = "n"
		}
		response = strings.ToLower(response)
		if response != "y" && response != "yes" {
			fmt.Println("Deletion cancelled.")
			return nil
		}
	}

	if err := svc.Projects.Delete(cmd.Context(), p.ID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	fmt.Printf("✓ Project '%s' and its notes deleted\n", p.Name)
	return nil
}
