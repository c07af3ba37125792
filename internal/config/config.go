package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
)

const appName = "project-notes"

// Environment variables that override secrets and endpoints from the file.
const (
	EnvEmbeddingAPIKey = "PROJECT_NOTES_EMBEDDING_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvRedisURL        = "PROJECT_NOTES_REDIS_URL"
	EnvAMQPURL         = "PROJECT_NOTES_AMQP_URL"
	EnvQdrantAPIKey    = "PROJECT_NOTES_QDRANT_API_KEY"
)

// Embedding providers
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Distance metrics
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Vector backends
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
	QueueAMQP   = "amqp"
)

type Config struct {
	DataDirectory string `json:"data_directory,omitempty" yaml:"data_directory,omitempty"`
	DatabasePath  string `json:"database_path,omitempty" yaml:"database_path,omitempty"`

	// Embedding provider
	EmbeddingProvider       string `json:"embedding_provider" yaml:"embedding_provider"`
	EmbeddingEndpoint       string `json:"embedding_endpoint" yaml:"embedding_endpoint"`
	EmbeddingModel          string `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingAPIKey         string `json:"embedding_api_key,omitempty" yaml:"embedding_api_key,omitempty"`
	VectorDimensions        int    `json:"vector_dimensions" yaml:"vector_dimensions"`
	DistanceMetric          string `json:"distance_metric" yaml:"distance_metric"`
	EmbeddingTimeoutSeconds int    `json:"embedding_timeout_seconds" yaml:"embedding_timeout_seconds"`

	// Search
	SearchLimit   int    `json:"search_limit" yaml:"search_limit"`
	VectorBackend string `json:"vector_backend" yaml:"vector_backend"`

	QdrantURL        string `json:"qdrant_url,omitempty" yaml:"qdrant_url,omitempty"`
	QdrantAPIKey     string `json:"qdrant_api_key,omitempty" yaml:"qdrant_api_key,omitempty"`
	QdrantCollection string `json:"qdrant_collection,omitempty" yaml:"qdrant_collection,omitempty"`

	// Background embedding jobs
	QueueBackend     string `json:"queue_backend" yaml:"queue_backend"`
	QueueName        string `json:"queue_name" yaml:"queue_name"`
	RedisURL         string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	AMQPURL          string `json:"amqp_url,omitempty" yaml:"amqp_url,omitempty"`
	JobMaxAttempts   int    `json:"job_max_attempts" yaml:"job_max_attempts"`
	JobBackoffMillis int    `json:"job_backoff_millis" yaml:"job_backoff_millis"`
	WorkerCount      int    `json:"worker_count" yaml:"worker_count"`

	Debug bool `json:"debug" yaml:"debug"`
}

// getDefaultConfig returns a fresh copy of the default configuration
func getDefaultConfig() Config {
	return Config{
		EmbeddingProvider:       ProviderOpenAI,
		EmbeddingEndpoint:       "https://api.openai.com",
		EmbeddingModel:          constants.DefaultOpenAIModel,
		VectorDimensions:        constants.DefaultOpenAIDimensions,
		DistanceMetric:          MetricCosine,
		EmbeddingTimeoutSeconds: int(constants.DefaultEmbeddingTimeout / time.Second),
		SearchLimit:             constants.DefaultSearchLimit,
		VectorBackend:           BackendSQLite,
		QdrantCollection:        "notes",
		QueueBackend:            QueueMemory,
		QueueName:               constants.DefaultQueueName,
		JobMaxAttempts:          constants.DefaultMaxAttempts,
		JobBackoffMillis:        int(constants.DefaultBackoffBase / time.Millisecond),
		WorkerCount:             constants.DefaultWorkerCount,
	}
}

// Default returns the default configuration with directories resolved and
// environment overrides applied. It never touches the filesystem.
func Default() *Config {
	cfg := getDefaultConfig()
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	dir := filepath.Join(configDir, appName)
	yamlPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	return filepath.Join(dir, "config.json"), nil
}

func GetDefaultDataDirectory() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "."+appName)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, appName)
}

// Load reads the config file (JSON or YAML) if present and fills every
// unset field with its default.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile is Load for an explicit path. A missing file yields defaults.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Save(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(cfg, configPath)
}

func SaveFile(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if cfg.DataDirectory != "" {
		if err := os.MkdirAll(cfg.DataDirectory, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write config file with secure permissions, it may hold an API key
	if err := os.WriteFile(configPath, data, constants.ConfigFileMode); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Config) applyDefaults() {
	defaults := getDefaultConfig()

	if c.DataDirectory == "" {
		c.DataDirectory = GetDefaultDataDirectory()
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDirectory, "notes.db")
	}

	if c.EmbeddingProvider == "" {
		c.EmbeddingProvider = defaults.EmbeddingProvider
	}
	if c.EmbeddingEndpoint == "" {
		switch c.EmbeddingProvider {
		case ProviderOllama:
			c.EmbeddingEndpoint = "http://localhost:11434"
		default:
			c.EmbeddingEndpoint = defaults.EmbeddingEndpoint
		}
	}
	if c.EmbeddingModel == "" {
		switch c.EmbeddingProvider {
		case ProviderOllama:
			c.EmbeddingModel = constants.DefaultOllamaModel
		default:
			c.EmbeddingModel = defaults.EmbeddingModel
		}
	}
	if c.VectorDimensions == 0 {
		switch c.EmbeddingProvider {
		case ProviderOllama:
			c.VectorDimensions = constants.DefaultOllamaDimensions
		default:
			c.VectorDimensions = defaults.VectorDimensions
		}
	}
	if c.DistanceMetric == "" {
		c.DistanceMetric = defaults.DistanceMetric
	}
	if c.EmbeddingTimeoutSeconds == 0 {
		c.EmbeddingTimeoutSeconds = defaults.EmbeddingTimeoutSeconds
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = defaults.SearchLimit
	}
	if c.VectorBackend == "" {
		c.VectorBackend = defaults.VectorBackend
	}
	if c.QdrantCollection == "" {
		c.QdrantCollection = defaults.QdrantCollection
	}
	if c.QueueBackend == "" {
		c.QueueBackend = defaults.QueueBackend
	}
	if c.QueueName == "" {
		c.QueueName = defaults.QueueName
	}
	if c.JobMaxAttempts == 0 {
		c.JobMaxAttempts = defaults.JobMaxAttempts
	}
	if c.JobBackoffMillis == 0 {
		c.JobBackoffMillis = defaults.JobBackoffMillis
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = defaults.WorkerCount
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvEmbeddingAPIKey); key != "" {
		c.EmbeddingAPIKey = key
	} else if key := os.Getenv(EnvOpenAIAPIKey); key != "" && c.EmbeddingAPIKey == "" {
		c.EmbeddingAPIKey = key
	}
	if url := os.Getenv(EnvRedisURL); url != "" {
		c.RedisURL = url
	}
	if url := os.Getenv(EnvAMQPURL); url != "" {
		c.AMQPURL = url
	}
	if key := os.Getenv(EnvQdrantAPIKey); key != "" {
		c.QdrantAPIKey = key
	}
}

// Validate checks enumerated fields. Credentials are checked by the
// embedding client at construction.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q", interrors.ErrUnknownProvider, c.EmbeddingProvider)
	}
	switch c.DistanceMetric {
	case MetricCosine, MetricL2:
	default:
		return fmt.Errorf("%w: unknown distance metric %q", interrors.ErrConfiguration, c.DistanceMetric)
	}
	switch c.VectorBackend {
	case BackendSQLite, BackendQdrant, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown vector backend %q", interrors.ErrConfiguration, c.VectorBackend)
	}
	switch c.QueueBackend {
	case QueueMemory, QueueRedis, QueueAMQP:
	default:
		return fmt.Errorf("%w: unknown queue backend %q", interrors.ErrConfiguration, c.QueueBackend)
	}
	if c.VectorDimensions < 0 {
		return fmt.Errorf("%w: vector dimensions must be positive", interrors.ErrConfiguration)
	}
	return nil
}

func (c *Config) GetDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDirectory, "notes.db")
}

// EmbeddingTimeout returns the per-call timeout, capped so a misconfigured
// value cannot pin a worker indefinitely.
func (c *Config) EmbeddingTimeout() time.Duration {
	timeout := time.Duration(c.EmbeddingTimeoutSeconds) * time.Second
	if timeout <= 0 {
		return constants.DefaultEmbeddingTimeout
	}
	if timeout > constants.MaxEmbeddingTimeout {
		return constants.MaxEmbeddingTimeout
	}
	return timeout
}

func (c *Config) JobBackoff() time.Duration {
	if c.JobBackoffMillis <= 0 {
		return constants.DefaultBackoffBase
	}
	return time.Duration(c.JobBackoffMillis) * time.Millisecond
}

// GetVectorConfigHash identifies the embedding space. Stored vectors are
// only comparable to queries embedded under the same hash.
func (c *Config) GetVectorConfigHash() string {
	return fmt.Sprintf("%s-%s-%d-%s", c.EmbeddingProvider, c.EmbeddingModel, c.VectorDimensions, c.DistanceMetric)
}

// Set assigns a value by its `config set` key.
func (c *Config) Set(key, value string) error {
	switch key {
	case "data-dir":
		c.DataDirectory = value
		c.DatabasePath = filepath.Join(value, "notes.db")
	case "embedding-provider":
		c.EmbeddingProvider = value
	case "embedding-endpoint":
		c.EmbeddingEndpoint = value
	case "embedding-model":
		c.EmbeddingModel = value
	case "embedding-api-key":
		c.EmbeddingAPIKey = value
	case "distance-metric":
		c.DistanceMetric = value
	case "vector-backend":
		c.VectorBackend = value
	case "qdrant-url":
		c.QdrantURL = value
	case "qdrant-collection":
		c.QdrantCollection = value
	case "queue-backend":
		c.QueueBackend = value
	case "queue-name":
		c.QueueName = value
	case "redis-url":
		c.RedisURL = value
	case "amqp-url":
		c.AMQPURL = value
	case "vector-dimensions", "embedding-timeout", "search-limit", "job-max-attempts", "job-backoff-ms", "worker-count":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer", interrors.ErrValidation, key)
		}
		switch key {
		case "vector-dimensions":
			c.VectorDimensions = n
		case "embedding-timeout":
			c.EmbeddingTimeoutSeconds = n
		case "search-limit":
			c.SearchLimit = n
		case "job-max-attempts":
			c.JobMaxAttempts = n
		case "job-backoff-ms":
			c.JobBackoffMillis = n
		case "worker-count":
			c.WorkerCount = n
		}
	case "debug":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.Debug = b
	default:
		return fmt.Errorf("%w: %s", interrors.ErrUnknownConfigKey, key)
	}
	return c.Validate()
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case constants.BoolTrue, constants.BoolYes, constants.BoolOne:
		return true, nil
	case constants.BoolFalse, constants.BoolNo, constants.BoolZero:
		return false, nil
	default:
		return false, interrors.ErrInvalidBoolean
	}
}
