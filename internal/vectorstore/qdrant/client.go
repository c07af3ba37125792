// Package qdrant mirrors note embeddings into a Qdrant collection and
// answers project-scoped nearest-neighbour queries from it.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

const (
	payloadProjectID = "project_id"
	payloadCreatedAt = "created_at"
	defaultGRPCPort  = 6334
)

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant gRPC address, e.g. "http://localhost:6334".
	URL            string
	APIKey         string
	CollectionName string
	Dimensions     int
	Metric         embeddings.Metric
}

// pointsAPI is the subset of *qdrant.Client the note store needs.
type pointsAPI interface {
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Client wraps the Qdrant gRPC client for one collection.
type Client struct {
	client     *qdrant.Client
	points     pointsAPI
	collection string
	dimensions int
	metric     embeddings.Metric
}

// New connects to Qdrant. It does not touch the collection; call
// EnsureCollection before use.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", interrors.ErrConfiguration)
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", interrors.ErrConfiguration)
	}

	host, port, useTLS, err := parseAddress(cfg.URL)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	metric := cfg.Metric
	if metric == "" {
		metric = embeddings.MetricCosine
	}

	return &Client{
		client:     qdrantClient,
		points:     qdrantClient,
		collection: cfg.CollectionName,
		dimensions: cfg.Dimensions,
		metric:     metric,
	}, nil
}

func parseAddress(raw string) (host string, port int, useTLS bool, err error) {
	parsed := raw
	if !strings.HasPrefix(parsed, "http://") && !strings.HasPrefix(parsed, "https://") {
		parsed = "http://" + parsed
	}

	u, err := url.Parse(parsed)
	if err != nil {
		return "", 0, false, fmt.Errorf("%w: failed to parse qdrant url: %v", interrors.ErrConfiguration, err)
	}

	port = defaultGRPCPort
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false, fmt.Errorf("%w: invalid qdrant port: %v", interrors.ErrConfiguration, err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// distanceFor maps the configured metric onto the collection distance so
// index and query agree.
func distanceFor(m embeddings.Metric) qdrant.Distance {
	if m == embeddings.MetricL2 {
		return qdrant.Distance_Euclid
	}
	return qdrant.Distance_Cosine
}

// toDistance converts a Qdrant score into a lower-is-closer distance.
// Cosine scores are similarities; Euclid scores already are distances.
func toDistance(m embeddings.Metric, score float32) float64 {
	if m == embeddings.MetricL2 {
		return float64(score)
	}
	return 1 - float64(score)
}

// EnsureCollection creates the collection and its project_id keyword index
// if they do not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("failed to check qdrant collection: %w", err)
	}
	if exists {
		logger.Debug("Qdrant collection %s exists", c.collection)
		return nil
	}

	logger.Info("Creating Qdrant collection %s (%d dimensions, %s)", c.collection, c.dimensions, c.metric)
	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.dimensions),
			Distance: distanceFor(c.metric),
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}

	wait := true
	_, err = c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: c.collection,
		Wait:           &wait,
		FieldName:      payloadProjectID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", payloadProjectID, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func projectFilter(projectID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadProjectID, projectID)},
	}
}
