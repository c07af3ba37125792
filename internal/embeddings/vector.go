package embeddings

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
)

// Metric is a symmetric vector distance. Lower is closer.
type Metric string

const (
	MetricCosine Metric = config.MetricCosine
	MetricL2     Metric = config.MetricL2
)

// ParseMetric maps a configured metric name onto a Metric.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricCosine, MetricL2:
		return Metric(name), nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", interrors.ErrConfiguration, name)
	}
}

// Distance returns the distance between a and b under m. Vectors of
// different length are a programming error upstream and yield +Inf.
func (m Metric) Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	switch m {
	case MetricL2:
		return L2Distance(a, b)
	default:
		return CosineDistance(a, b)
	}
}

// SQLFunction is the sqlite-vec scalar function computing m.
func (m Metric) SQLFunction() string {
	switch m {
	case MetricL2:
		return "vec_distance_l2"
	default:
		return "vec_distance_cosine"
	}
}

// CosineDistance is 1 - cosine similarity. A zero vector is maximally
// distant from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// BytesToEmbedding decodes the little-endian float32 BLOB layout that
// sqlite-vec writes.
func BytesToEmbedding(data []byte) ([]float32, error) {
	if len(data)%constants.BytesPerFloat32 != 0 {
		return nil, interrors.ErrInvalidEmbeddingLength
	}

	embedding := make([]float32, len(data)/constants.BytesPerFloat32)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}
