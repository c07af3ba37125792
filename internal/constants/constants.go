package constants

import "time"

// Boolean string values
const (
	BoolTrue  = "true"
	BoolFalse = "false"
	BoolYes   = "yes"
	BoolNo    = "no"
	BoolOne   = "1"
	BoolZero  = "0"
)

// Search and listing limits
const (
	DefaultSearchLimit = 5
	MaxSearchLimit     = 100
	DefaultListLimit   = 50
	PreviewLength      = 100
)

// Embedding defaults
const (
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultOpenAIDimensions = 1536
	DefaultOllamaModel      = "nomic-embed-text"
	DefaultOllamaDimensions = 768
	DefaultEmbeddingTimeout = 20 * time.Second
	MaxEmbeddingTimeout     = 60 * time.Second
	BytesPerFloat32         = 4
)

// Job queue defaults
const (
	DefaultQueueName      = "note_embeddings"
	DefaultMaxAttempts    = 5
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffCap     = 30 * time.Second
	DefaultWorkerCount    = 2
	DefaultQueueBuffer    = 256
	QueuePollInterval     = time.Second
	DeadLetterQueueSuffix = ".dead"
)

// File permissions
const (
	ConfigFileMode = 0600 // Secure file permissions for config
)
