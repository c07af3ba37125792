package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/constants"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize project-notes configuration",
	Long: `Initialize project-notes configuration interactively or with flags.
This command writes the configuration file and creates the data directory.`,
	RunE: runInit,
}

var (
	initDataDir     string
	initProvider    string
	initEndpoint    string
	initModel       string
	initDimensions  int
	initInteractive bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "", "Data directory for storing the notes database")
	initCmd.Flags().StringVar(&initProvider, "provider", "", "Embedding provider (openai or ollama)")
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "Embedding provider base URL")
	initCmd.Flags().StringVar(&initModel, "model", "", "Embedding model name")
	initCmd.Flags().IntVar(&initDimensions, "dimensions", 0, "Vector dimensions of the model")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Run interactive setup")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Configuration already exists at: %s\n", configPath)
		if !confirm(reader, "Do you want to overwrite it? (y/N): ") {
			fmt.Println("Configuration initialization cancelled.")
			return nil
		}
	}

	cfg := config.Default()
	if initInteractive {
		fmt.Println("=== Project Notes Configuration Setup ===")
		fmt.Println()
		initDataDir = prompt(reader, "Data directory", cfg.DataDirectory)
		initProvider = prompt(reader, "Embedding provider (openai/ollama)", cfg.EmbeddingProvider)
		if initProvider == config.ProviderOllama {
			cfg.EmbeddingEndpoint = "http://localhost:11434"
			cfg.EmbeddingModel = constants.DefaultOllamaModel
			cfg.VectorDimensions = constants.DefaultOllamaDimensions
		}
		initEndpoint = prompt(reader, "Embedding endpoint", cfg.EmbeddingEndpoint)
		initModel = prompt(reader, "Embedding model", cfg.EmbeddingModel)
		if dims, err := strconv.Atoi(prompt(reader, "Vector dimensions", strconv.Itoa(cfg.VectorDimensions))); err == nil {
			initDimensions = dims
		}
	}

	dataDir := ""
	if initDataDir != "" {
		dataDir = expandPath(initDataDir)
	}
	settings := []struct {
		key, value string
	}{
		{"data-dir", dataDir},
		{"embedding-provider", initProvider},
		{"embedding-endpoint", initEndpoint},
		{"embedding-model", initModel},
	}
	if initDimensions > 0 {
		settings = append(settings, struct{ key, value string }{"vector-dimensions", strconv.Itoa(initDimensions)})
	}
	for _, s := range settings {
		if s.value == "" {
			continue
		}
		if err := cfg.Set(s.key, s.value); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("Config file:        %s\n", configPath)
	fmt.Printf("Data directory:     %s\n", cfg.DataDirectory)
	fmt.Printf("Database path:      %s\n", cfg.GetDatabasePath())
	fmt.Printf("Provider:           %s (%s)\n", cfg.EmbeddingProvider, cfg.EmbeddingEndpoint)
	fmt.Printf("Embedding model:    %s\n", cfg.EmbeddingModel)
	fmt.Printf("Vector dimensions:  %d\n", cfg.VectorDimensions)
	fmt.Println("\nConfiguration initialized successfully!")
	fmt.Println("Run 'project-notes config test' to check the embedding provider.")
	return nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func confirm(reader *bufio.Reader, question string) bool {
	fmt.Print(question)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
