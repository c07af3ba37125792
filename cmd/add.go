package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/models"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a note to a project",
	Long: `Add a note to a project. The note is embedded after it is stored and
becomes searchable once embedding succeeds.

Content can be provided in several ways:
1. Via --content flag: project-notes add -p acme -c "Content"
2. Via stdin: echo "Content" | project-notes add -p acme
3. Via editor: project-notes add -p acme -e

With the in-memory queue the note is embedded before the command returns.`,
	RunE: runAdd,
}

var (
	addProject string
	content    string
	useEditor  bool
	editorName string
)

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addProject, "project", "p", "", "Project ID (required)")
	addCmd.Flags().StringVarP(&content, "content", "c", "", "Note content")
	addCmd.Flags().BoolVarP(&useEditor, "editor", "e", false, "Use editor for content input")
	addCmd.Flags().StringVar(&editorName, "editor-cmd", "", "Specify editor to use (overrides $EDITOR)")
	_ = addCmd.MarkFlagRequired("project")
}

func runAdd(cmd *cobra.Command, args []string) error {
	if content == "" {
		var err error
		content, err = readContent()
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(content) == "" {
		return interrors.ErrEmptyContent
	}

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	note, err := svc.Notes.Create(cmd.Context(), addProject, content)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	if inProcessQueue() {
		if err := svc.Indexer.EmbedNote(cmd.Context(), note.ID); err != nil {
			logger.Warn("Embedding note %s failed: %v", note.ID, err)
			if ferr := svc.Store.MarkEmbeddingFailed(cmd.Context(), note.ID, err.Error()); ferr != nil {
				logger.Debug("Failed to record embedding failure: %v", ferr)
			}
			fmt.Fprintf(os.Stderr, "Warning: note saved but not embedded; run 'project-notes reindex --pending -p %s' to retry\n", note.ProjectID)
		} else if refreshed, err := svc.Notes.Get(cmd.Context(), note.ID); err == nil {
			note = refreshed
		}
	}

	printCreated(note)
	return nil
}

func printCreated(note *models.Note) {
	fmt.Printf("Note created successfully!\n")
	fmt.Printf("ID: %s\n", note.ID)
	fmt.Printf("Project: %s\n", note.ProjectID)
	fmt.Printf("Status: %s\n", note.Status())
	fmt.Printf("Created: %s\n", note.CreatedAt.Format("2006-01-02 15:04:05"))
}

// readContent takes the note body from stdin when piped, otherwise from
// the editor.
func readContent() (string, error) {
	piped := !isTerminalAvailable()
	if useEditor && !piped {
		text, err := getContentFromEditor()
		if err != nil {
			return "", fmt.Errorf("failed to get content from editor: %w", err)
		}
		return text, nil
	}

	if !piped {
		fmt.Println("Enter note content (press Ctrl+D when finished):")
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

const editorPlaceholder = "[Write your note content here]"

// getContentFromEditor opens an editor for the user to input content
func getContentFromEditor() (string, error) {
	tempFile, err := os.CreateTemp("", "project-notes-new-*.md")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	template := editorPlaceholder + `

<!--
  Save and close the editor when done.
  To cancel, exit without saving.
-->`

	if _, err := tempFile.WriteString(template); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	tempFile.Close()

	if err := openEditor(tempFile.Name()); err != nil {
		return "", err
	}

	editedBytes, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read edited file: %w", err)
	}

	var contentLines []string
	inComment := false
	for _, line := range strings.Split(string(editedBytes), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "<!--"):
			inComment = !strings.Contains(trimmed, "-->")
			continue
		case inComment:
			if strings.Contains(trimmed, "-->") {
				inComment = false
			}
			continue
		case trimmed == editorPlaceholder:
			continue
		}
		contentLines = append(contentLines, line)
	}

	return strings.TrimSpace(strings.Join(contentLines, "\n")), nil
}

// openEditor opens a file in the user's preferred editor
func openEditor(filename string) error {
	editorCmd := editorName
	if editorCmd == "" {
		editorCmd = os.Getenv("EDITOR")
	}
	if editorCmd == "" {
		editorCmd = os.Getenv("VISUAL")
	}
	if editorCmd == "" {
		for _, e := range []string{"vim", "vi", "nano", "emacs"} {
			if _, err := exec.LookPath(e); err == nil {
				editorCmd = e
				break
			}
		}
	}
	if editorCmd == "" {
		return fmt.Errorf("no editor found. Set $EDITOR or use --editor-cmd")
	}

	logger.Debug("Opening file in editor: %s %s", editorCmd, filename)

	// Handle editors that might have arguments (e.g., "code --wait")
	parts := strings.Fields(editorCmd)
	cmd := exec.Command(parts[0], append(parts[1:], filename)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor %s: %w", editorCmd, err)
	}
	return nil
}

// isTerminalAvailable checks if we're running in an interactive terminal
func isTerminalAvailable() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
