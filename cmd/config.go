package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/embeddings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage project-notes configuration",
	Long:  `View and manage project-notes configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current project-notes configuration settings. Secrets are masked.`,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value.

Available keys:
  - data-dir: Data directory for storing the notes database
  - embedding-provider: openai or ollama
  - embedding-endpoint: Provider base URL
  - embedding-model: Embedding model name
  - embedding-api-key: Provider API key (openai)
  - vector-dimensions: Number of vector dimensions
  - distance-metric: cosine or l2
  - embedding-timeout: Provider request timeout in seconds
  - search-limit: Default number of search results
  - vector-backend: sqlite, qdrant or memory
  - qdrant-url, qdrant-collection: Qdrant connection
  - queue-backend: memory, redis or amqp
  - queue-name, redis-url, amqp-url: Queue connection
  - job-max-attempts, job-backoff-ms, worker-count: Embedding worker tuning
  - debug: Enable/disable debug logging (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the embedding provider answers",
	Long: `Embed a short text with the configured provider and compare the returned
vector length with vector-dimensions.`,
	RunE: runConfigTest,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configTestCmd)
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println("=== Project Notes Configuration ===")
	fmt.Printf("Config file:           %s\n", configPath)
	fmt.Printf("data-dir:              %s\n", cfg.DataDirectory)
	fmt.Printf("Database path:         %s\n", cfg.GetDatabasePath())
	fmt.Printf("embedding-provider:    %s\n", cfg.EmbeddingProvider)
	fmt.Printf("embedding-endpoint:    %s\n", cfg.EmbeddingEndpoint)
	fmt.Printf("embedding-model:       %s\n", cfg.EmbeddingModel)
	fmt.Printf("embedding-api-key:     %s\n", mask(cfg.EmbeddingAPIKey))
	fmt.Printf("vector-dimensions:     %d\n", cfg.VectorDimensions)
	fmt.Printf("distance-metric:       %s\n", cfg.DistanceMetric)
	fmt.Printf("embedding-timeout:     %s\n", cfg.EmbeddingTimeout())
	fmt.Printf("search-limit:          %d\n", cfg.SearchLimit)
	fmt.Printf("vector-backend:        %s\n", cfg.VectorBackend)
	if cfg.VectorBackend == config.BackendQdrant {
		fmt.Printf("qdrant-url:            %s\n", cfg.QdrantURL)
		fmt.Printf("qdrant-collection:     %s\n", cfg.QdrantCollection)
		fmt.Printf("qdrant-api-key:        %s\n", mask(cfg.QdrantAPIKey))
	}
	fmt.Printf("queue-backend:         %s\n", cfg.QueueBackend)
	fmt.Printf("queue-name:            %s\n", cfg.QueueName)
	switch cfg.QueueBackend {
	case config.QueueRedis:
		fmt.Printf("redis-url:             %s\n", cfg.RedisURL)
	case config.QueueAMQP:
		fmt.Printf("amqp-url:              %s\n", cfg.AMQPURL)
	}
	fmt.Printf("job-max-attempts:      %d\n", cfg.JobMaxAttempts)
	fmt.Printf("job-backoff-ms:        %d\n", cfg.JobBackoff().Milliseconds())
	fmt.Printf("worker-count:          %d\n", cfg.WorkerCount)
	fmt.Printf("debug:                 %v\n", cfg.Debug)
	fmt.Printf("Vector config hash:    %s\n", cfg.GetVectorConfigHash())

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println(configPath)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]
	if key == "data-dir" {
		value = expandPath(value)
	}

	cfg := appConfig
	oldVectorHash := cfg.GetVectorConfigHash()

	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if oldVectorHash != cfg.GetVectorConfigHash() {
		fmt.Println("\nWarning: Vector configuration has changed.")
		fmt.Println("Existing embeddings are not comparable with new queries.")
		fmt.Println("Run 'project-notes reindex -p <project>' for each project to update them.")
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if key == "embedding-api-key" {
		value = mask(value)
	}
	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigTest(cmd *cobra.Command, args []string) error {
	client, err := embeddings.NewClient(appConfig)
	if err != nil {
		return err
	}

	fmt.Printf("Testing %s at %s with model %s...\n",
		appConfig.EmbeddingProvider, appConfig.EmbeddingEndpoint, appConfig.EmbeddingModel)

	ctx, cancel := context.WithTimeout(cmd.Context(), appConfig.EmbeddingTimeout()+5*time.Second)
	defer cancel()

	start := time.Now()
	vec, err := client.Embed(ctx, "connection test", embeddings.EmbeddingTypeDocument)
	if err != nil {
		return fmt.Errorf("embedding provider check failed: %w", err)
	}

	fmt.Printf("✓ Provider answered in %v with %d dimensions\n", time.Since(start).Round(time.Millisecond), len(vec))
	return nil
}
