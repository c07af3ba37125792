package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/services"
)

var (
	appConfig *config.Config
	debugFlag bool
	Version   = "dev" // Version is set from main.go
)

var rootCmd = &cobra.Command{
	Use:     "project-notes",
	Short:   "Project-scoped notes with semantic search",
	Version: Version,
	Long: `project-notes stores notes inside projects and finds them by meaning.

Every note is embedded in the background after it is created. Searches embed
the query with the same model and return the closest notes of one project.

Get started:
  project-notes project create "Acme Corp"
  project-notes add -p acme-corp -c "Quarterly revenue up 12%"
  project-notes search -p acme-corp "how is revenue trending"`,
	SilenceUsage:      true,
	PersistentPreRunE: loadAppConfig,
}

func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func loadAppConfig(cmd *cobra.Command, args []string) error {
	var err error
	appConfig, err = config.Load()
	if err != nil {
		// `init` and `config set` must still be able to repair a broken file
		if isConfigCommand(cmd) {
			appConfig = config.Default()
			logger.Warn("Ignoring unreadable configuration: %v", err)
			return nil
		}
		return fmt.Errorf("error loading configuration: %w", err)
	}

	if debugFlag || appConfig.Debug {
		logger.SetDebugMode(true)
		logger.Debug("Configuration loaded from: %s", func() string {
			path, _ := config.GetConfigPath()
			return path
		}())
		logger.Debug("Data directory: %s", appConfig.DataDirectory)
		logger.Debug("Embedding provider: %s (%s)", appConfig.EmbeddingProvider, appConfig.EmbeddingModel)
		logger.Debug("Vector dimensions: %d, metric: %s", appConfig.VectorDimensions, appConfig.DistanceMetric)
		logger.Debug("Vector backend: %s, queue backend: %s", appConfig.VectorBackend, appConfig.QueueBackend)
	}
	return nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd || c == initCmd {
			return true
		}
	}
	return false
}

// openServices builds the service container for one command. Callers
// must Close it.
func openServices(cmd *cobra.Command) (*services.Services, error) {
	svc, err := services.Build(cmd.Context(), appConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return svc, nil
}

// inProcessQueue reports whether queued jobs die with this process, in
// which case commands embed synchronously or run their own worker.
func inProcessQueue() bool {
	return appConfig.QueueBackend == config.QueueMemory
}
