package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streed/project-notes/internal/config"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

type EmbeddingType string

const (
	EmbeddingTypeDocument EmbeddingType = "document"
	EmbeddingTypeSearch   EmbeddingType = "search"
)

// Embedder converts text into a vector of a fixed length.
type Embedder interface {
	Embed(ctx context.Context, text string, embedType EmbeddingType) ([]float32, error)
	Dimensions() int
}

// Client talks to a remote embedding API. Build one per process and share it.
type Client struct {
	provider   string
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the transport. The per-call timeout still applies.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient validates the provider configuration up front. A missing
// credential is an ErrConfiguration here rather than on the first request.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", interrors.ErrConfiguration)
	}

	c := &Client{
		provider:   cfg.EmbeddingProvider,
		endpoint:   strings.TrimRight(cfg.EmbeddingEndpoint, "/"),
		model:      cfg.EmbeddingModel,
		apiKey:     cfg.EmbeddingAPIKey,
		dimensions: cfg.VectorDimensions,
		timeout:    cfg.EmbeddingTimeout(),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	switch c.provider {
	case config.ProviderOpenAI:
		if c.apiKey == "" {
			return nil, interrors.ErrMissingCredential
		}
	case config.ProviderOllama:
		// A local Ollama daemon is addressed, not authenticated.
		if c.endpoint == "" {
			return nil, fmt.Errorf("%w: ollama endpoint", interrors.ErrMissingCredential)
		}
	default:
		return nil, fmt.Errorf("%w: %q", interrors.ErrUnknownProvider, c.provider)
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: embedding endpoint is empty", interrors.ErrConfiguration)
	}
	if c.model == "" {
		return nil, fmt.Errorf("%w: embedding model is empty", interrors.ErrConfiguration)
	}
	if c.dimensions <= 0 {
		return nil, fmt.Errorf("%w: vector dimensions must be positive", interrors.ErrConfiguration)
	}

	logger.Debug("Embedding client ready: provider=%s model=%s dimensions=%d timeout=%v",
		c.provider, c.model, c.dimensions, c.timeout)
	return c, nil
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) Model() string {
	return c.model
}

// formatTextForNomic formats text according to Nomic's recommendations
// See: https://docs.nomic.ai/reference/endpoints/nomic-embed-text
func (c *Client) formatTextForNomic(text string, embedType EmbeddingType) string {
	if !strings.Contains(strings.ToLower(c.model), "nomic") {
		return text
	}

	switch embedType {
	case EmbeddingTypeSearch:
		return "search_query: " + text
	case EmbeddingTypeDocument:
		return "search_document: " + text
	default:
		return text
	}
}

// Embed returns exactly Dimensions() floats or an error. It never retries.
func (c *Client) Embed(ctx context.Context, text string, embedType EmbeddingType) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, interrors.ErrEmptyContent
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	formattedText := c.formatTextForNomic(text, embedType)

	var (
		url     string
		payload interface{}
	)
	switch c.provider {
	case config.ProviderOllama:
		url = c.endpoint + "/api/embeddings"
		payload = ollamaRequest{Model: c.model, Prompt: formattedText}
	default:
		url = c.endpoint + "/v1/embeddings"
		payload = openAIRequest{Model: c.model, Input: formattedText}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", interrors.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logger.Debug("Requesting %s embedding from %s with model %s", embedType, url, c.model)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("embedding request cancelled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: request timed out after %v", interrors.ErrProvider, time.Since(start).Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%w: %v", interrors.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", interrors.ErrProvider, err)
	}
	logger.Debug("Embedding response status: %d, time: %v", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", interrors.ErrProvider, resp.StatusCode, providerMessage(body))
	}

	var embedding []float32
	switch c.provider {
	case config.ProviderOllama:
		var result ollamaResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", interrors.ErrProvider, err)
		}
		embedding = result.Embedding
	default:
		var result openAIResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", interrors.ErrProvider, err)
		}
		if len(result.Data) > 0 {
			embedding = result.Data[0].Embedding
		}
	}

	if len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			interrors.ErrProvider, c.model, len(embedding), c.dimensions)
	}
	return embedding, nil
}

type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// providerMessage extracts a short error message without echoing large
// bodies into logs.
func providerMessage(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(payload.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
