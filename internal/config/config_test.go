package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvEmbeddingAPIKey, EnvOpenAIAPIKey, EnvRedisURL, EnvAMQPURL, EnvQdrantAPIKey} {
		t.Setenv(key, "")
	}
}

func TestGetDefaultDataDirectory(t *testing.T) {
	tests := []struct {
		name     string
		xdgHome  string
		expected string
	}{
		{
			name:     "With XDG_DATA_HOME set",
			xdgHome:  "/custom/data",
			expected: "/custom/data/project-notes",
		},
		{
			name:    "Without XDG_DATA_HOME",
			xdgHome: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.xdgHome)
			result := GetDefaultDataDirectory()

			if tt.xdgHome == "" {
				homeDir, _ := os.UserHomeDir()
				expected := filepath.Join(homeDir, ".local", "share", "project-notes")
				if result != expected {
					t.Errorf("Expected %s, got %s", expected, result)
				}
			} else if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.EmbeddingProvider != ProviderOpenAI {
		t.Errorf("Expected provider %s, got %s", ProviderOpenAI, cfg.EmbeddingProvider)
	}
	if cfg.SearchLimit != constants.DefaultSearchLimit {
		t.Errorf("Expected search limit %d, got %d", constants.DefaultSearchLimit, cfg.SearchLimit)
	}
	if cfg.DistanceMetric != MetricCosine {
		t.Errorf("Expected metric %s, got %s", MetricCosine, cfg.DistanceMetric)
	}
	if cfg.DatabasePath != filepath.Join(cfg.DataDirectory, "notes.db") {
		t.Errorf("Unexpected database path %s", cfg.DatabasePath)
	}
}

func TestConfigSaveAndLoadJSON(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.json")

	testConfig := &Config{
		DataDirectory:     filepath.Join(tempDir, "data"),
		EmbeddingProvider: ProviderOllama,
		EmbeddingEndpoint: "http://test:11434",
		EmbeddingModel:    "nomic-embed-text",
		VectorDimensions:  768,
		DistanceMetric:    MetricL2,
		QueueBackend:      QueueRedis,
		RedisURL:          "redis://localhost:6379/0",
		Debug:             true,
	}

	if err := SaveFile(testConfig, configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm() != constants.ConfigFileMode {
		t.Errorf("Expected mode %o, got %o", constants.ConfigFileMode, info.Mode().Perm())
	}

	loaded, err := LoadFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.EmbeddingEndpoint != testConfig.EmbeddingEndpoint {
		t.Errorf("EmbeddingEndpoint mismatch: expected %s, got %s", testConfig.EmbeddingEndpoint, loaded.EmbeddingEndpoint)
	}
	if loaded.VectorDimensions != 768 {
		t.Errorf("VectorDimensions mismatch: expected 768, got %d", loaded.VectorDimensions)
	}
	if loaded.DistanceMetric != MetricL2 {
		t.Errorf("DistanceMetric mismatch: expected %s, got %s", MetricL2, loaded.DistanceMetric)
	}
	if loaded.QueueBackend != QueueRedis {
		t.Errorf("QueueBackend mismatch: expected %s, got %s", QueueRedis, loaded.QueueBackend)
	}
	if !loaded.Debug {
		t.Error("Debug should be true")
	}
	// Unset fields pick up defaults
	if loaded.JobMaxAttempts != constants.DefaultMaxAttempts {
		t.Errorf("Expected default max attempts, got %d", loaded.JobMaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
embedding_provider: openai
embedding_model: text-embedding-3-large
vector_dimensions: 3072
vector_backend: qdrant
qdrant_url: http://localhost:6334
search_limit: 8
`
	if err := os.WriteFile(configFile, []byte(yamlData), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}
	if cfg.EmbeddingModel != "text-embedding-3-large" {
		t.Errorf("Expected model text-embedding-3-large, got %s", cfg.EmbeddingModel)
	}
	if cfg.VectorDimensions != 3072 {
		t.Errorf("Expected 3072 dimensions, got %d", cfg.VectorDimensions)
	}
	if cfg.VectorBackend != BackendQdrant {
		t.Errorf("Expected qdrant backend, got %s", cfg.VectorBackend)
	}
	if cfg.SearchLimit != 8 {
		t.Errorf("Expected search limit 8, got %d", cfg.SearchLimit)
	}
}

func TestLoadRejectsUnknownMetric(t *testing.T) {
	clearEnv(t)
	configFile := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configFile, []byte(`{"distance_metric": "manhattan"}`), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(configFile)
	if !errors.Is(err, interrors.ErrConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-openai")
	cfg := Default()
	if cfg.EmbeddingAPIKey != "sk-openai" {
		t.Errorf("Expected OPENAI_API_KEY to be used, got %q", cfg.EmbeddingAPIKey)
	}

	t.Setenv(EnvEmbeddingAPIKey, "sk-project")
	cfg = Default()
	if cfg.EmbeddingAPIKey != "sk-project" {
		t.Errorf("Expected project key to win, got %q", cfg.EmbeddingAPIKey)
	}
}

func TestEmbeddingTimeoutIsCapped(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, constants.DefaultEmbeddingTimeout},
		{5, 5 * time.Second},
		{600, constants.MaxEmbeddingTimeout},
	}
	for _, tt := range tests {
		cfg := Config{EmbeddingTimeoutSeconds: tt.seconds}
		if got := cfg.EmbeddingTimeout(); got != tt.want {
			t.Errorf("EmbeddingTimeout(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestSet(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	if err := cfg.Set("search-limit", "12"); err != nil {
		t.Fatalf("Set search-limit failed: %v", err)
	}
	if cfg.SearchLimit != 12 {
		t.Errorf("Expected search limit 12, got %d", cfg.SearchLimit)
	}

	if err := cfg.Set("debug", "yes"); err != nil || !cfg.Debug {
		t.Errorf("Expected debug to be enabled, err=%v", err)
	}

	if err := cfg.Set("debug", "maybe"); !errors.Is(err, interrors.ErrInvalidBoolean) {
		t.Errorf("Expected ErrInvalidBoolean, got %v", err)
	}

	if err := cfg.Set("colour", "blue"); !errors.Is(err, interrors.ErrUnknownConfigKey) {
		t.Errorf("Expected ErrUnknownConfigKey, got %v", err)
	}

	if err := cfg.Set("queue-backend", "kafka"); !errors.Is(err, interrors.ErrConfiguration) {
		t.Errorf("Expected configuration error for unknown queue, got %v", err)
	}
}

func TestGetVectorConfigHash(t *testing.T) {
	a := Config{EmbeddingProvider: ProviderOpenAI, EmbeddingModel: "m", VectorDimensions: 3, DistanceMetric: MetricCosine}
	b := a
	b.DistanceMetric = MetricL2
	if a.GetVectorConfigHash() == b.GetVectorConfigHash() {
		t.Error("Changing the metric must change the vector config hash")
	}
}
